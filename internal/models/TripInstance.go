package models

import (
	"time"

	"gorm.io/gorm"
)

// Trip instance lifecycle states. Transitions are monotonic: a trip never
// returns to SCHEDULED once started, and COMPLETED/CANCELLED are terminal.
const (
	TripScheduled  = "SCHEDULED"
	TripInProgress = "IN_PROGRESS"
	TripCompleted  = "COMPLETED"
	TripCancelled  = "CANCELLED"
)

// Direction of travel while a trip is IN_PROGRESS.
const (
	PhaseOutbound = "OUTBOUND"
	PhaseReturn   = "RETURN"
)

// TripInstance is one dated, scheduled execution of a trip template.
// Seat counters obey seats_occupied <= seat_held <= seat_capacity.
type TripInstance struct {
	gorm.Model
	TripTemplateID     uint         `json:"trip_template_id" gorm:"index"`
	TripTemplate       TripTemplate `gorm:"foreignKey:TripTemplateID" json:"trip_template,omitempty"`
	ScheduledDate      string       `json:"scheduled_date"` // YYYY-MM-DD
	ScheduledStartTime time.Time    `json:"scheduled_start_time"`
	ScheduledEndTime   time.Time    `json:"scheduled_end_time"`
	ActualStartTime    *time.Time   `json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time   `json:"actual_end_time,omitempty"`
	Status             string       `json:"status" gorm:"index;default:SCHEDULED"`
	Phase              string       `json:"phase" gorm:"default:OUTBOUND"`
	DriverID           uint         `json:"driver_id" gorm:"index"`
	ShuttleID          uint         `json:"shuttle_id"`
	SeatHeld           int          `json:"seat_held"`
	SeatsOccupied      int          `json:"seats_occupied"`
	SeatCapacity       int          `json:"seat_capacity"`

	Segments []RouteInstance `gorm:"foreignKey:TripInstanceID" json:"segments,omitempty"`
}

// Active reports whether the trip still accepts mutations.
func (t *TripInstance) Active() bool {
	return t.Status == TripScheduled || t.Status == TripInProgress
}
