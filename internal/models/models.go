package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Role is the closed set of actor types the dispatch core recognizes.
type Role string

const (
	RoleRider  Role = "Rider"
	RoleDriver Role = "Driver"
)

// Lifecycle is the soft-delete axis, independent of ride status.
type Lifecycle string

const (
	LifecycleActive   Lifecycle = "Active"
	LifecycleArchived Lifecycle = "Archived"
)

// Profile is an actor supplied by the identity system. The dispatch core
// reads profiles, it never creates them.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name,omitempty"`
	Role      Role      `json:"role"`
	Loc       *Coord    `json:"loc,omitempty"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"updated"`
}

// HasLocation reports whether the profile carries last-known coordinates.
func (p Profile) HasLocation() bool { return p.Loc != nil }

type RideStatus string

const (
	StatusRequested RideStatus = "Requested"
	StatusAccepted  RideStatus = "Accepted"
	StatusStarted   RideStatus = "Started"
	StatusCompleted RideStatus = "Completed"
	StatusCancelled RideStatus = "Cancelled"
)

// allowedTransitions encodes the ride state machine. Transitions are
// monotonic: terminal states have no outgoing edges.
var allowedTransitions = map[RideStatus][]RideStatus{
	StatusRequested: {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusStarted, StatusCancelled},
	StatusStarted:   {StatusCompleted},
}

func CanTransition(from, to RideStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions.
func (s RideStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ValidStatus(s RideStatus) bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusStarted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Ride is the central dispatch entity. RiderID is immutable after creation;
// DriverID stays empty until a driver is matched or accepts.
type Ride struct {
	ID         string     `json:"id"`
	RiderID    string     `json:"rider_id"`
	DriverID   string     `json:"driver_id,omitempty"`
	Pickup     string     `json:"pickup_location"`
	Dropoff    string     `json:"dropoff_location,omitempty"`
	Status     RideStatus `json:"status"`
	Current    *Coord     `json:"current,omitempty"`
	Address    string     `json:"current_address,omitempty"`
	PaymentRef string     `json:"-"`
	Lifecycle  Lifecycle  `json:"lifecycle"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Assignment is pushed to a driver when a ride is matched to them.
type Assignment struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
	Pickup   string `json:"pickup_location"`
	Dropoff  string `json:"dropoff_location,omitempty"`
}

func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
