package models

import "time"

// Device is a physical controller (PLC, scanner, camera, printer) owned by a
// workstation. CRUD over the device catalog lives outside the engine; the
// engine only reads address and connection info.
type Device struct {
	ID            int64     `json:"id" db:"id"`
	WorkstationID int64     `json:"workstation_id" db:"workstation_id"`
	Code          string    `json:"code" db:"code"`
	Name          string    `json:"name" db:"name"`
	IPAddress     string    `json:"ip_address" db:"ip_address"`
	Port          int       `json:"port" db:"port"`
	Protocol      string    `json:"protocol" db:"protocol"`
	Online        bool      `json:"online" db:"online"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Workstation is a physical production location where steps execute and
// devices are attached.
type Workstation struct {
	ID          int64     `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
