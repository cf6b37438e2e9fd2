package handler

import "strconv"

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
