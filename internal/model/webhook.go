package model

import "time"

// Webhook is a tenant-configured outbound notification target (orig spec
// §3, Webhook).
type Webhook struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Secret string   `json:"-"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

// WebhookDelivery is one attempt record for one event on one webhook (orig
// spec §3, WebhookDelivery; §4.6 retry schedule).
type WebhookDelivery struct {
	ID            string         `json:"id"`
	WebhookID     string         `json:"webhookId"`
	EventType     string         `json:"eventType"`
	Payload       []byte         `json:"payload,omitempty"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time     `json:"nextRetryAt,omitempty"`
	ResponseCode  *int           `json:"responseCode,omitempty"`
	ErrorMessage  *string        `json:"errorMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// AuditLog is one append-only privileged-action record (orig spec §3,
// AuditLog).
type AuditLog struct {
	ID             string         `json:"id"`
	OrganizationID *string        `json:"organizationId,omitempty"`
	ActorType      string         `json:"actorType"`
	ActorID        string         `json:"actorId"`
	Action         string         `json:"action"`
	ResourceType   string         `json:"resourceType"`
	ResourceID     string         `json:"resourceId"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// AuditExportJob tracks an async bulk-export request (orig spec §4.7).
type AuditExportJob struct {
	ID          string       `json:"id"`
	Status      ExportStatus `json:"status"`
	Format      string       `json:"format"`
	DownloadURL *string      `json:"downloadUrl,omitempty"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	Error       *string      `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}
