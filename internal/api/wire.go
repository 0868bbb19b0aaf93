package api

import (
	"strings"

	"stationbook/internal/booking"
	"stationbook/internal/models"
)

// bookedSystem is one entry of the systemsBooked list.
type bookedSystem struct {
	RoomType        string `json:"roomType"`
	SystemType      string `json:"systemType"`
	NumberOfSystems int    `json:"numberOfSystems"`
}

// createBody accepts both booking shapes: the single roomType/systemType/numberOfSystems
// triple and the systemsBooked list.
type createBody struct {
	VenueID       string         `json:"venueId"`
	BookingDate   string         `json:"bookingDate"`
	StartTime     string         `json:"startTime"`
	Duration      float64        `json:"duration"`
	SystemsBooked []bookedSystem `json:"systemsBooked"`

	RoomType        string `json:"roomType"`
	SystemType      string `json:"systemType"`
	NumberOfSystems int    `json:"numberOfSystems"`

	WalkInName    string `json:"walkInName"`
	Phone         string `json:"phone"`
	PaymentMethod string `json:"paymentMethod"`
	FriendCount   int    `json:"friendCount"`
}

// toCreateRequest translates the wire body into the single line-item form the manager takes.
func (b createBody) toCreateRequest() (booking.CreateRequest, error) {
	legacy := b.RoomType != "" || b.SystemType != "" || b.NumberOfSystems != 0
	if legacy && len(b.SystemsBooked) > 0 {
		return booking.CreateRequest{}, models.InputError("use either systemsBooked or roomType/systemType/numberOfSystems")
	}

	req := booking.CreateRequest{
		VenueID:       strings.TrimSpace(b.VenueID),
		BookingDate:   strings.TrimSpace(b.BookingDate),
		StartTime:     strings.TrimSpace(b.StartTime),
		Duration:      b.Duration,
		WalkInName:    b.WalkInName,
		Phone:         b.Phone,
		PaymentMethod: models.PaymentMethod(strings.ToLower(strings.TrimSpace(b.PaymentMethod))),
		FriendCount:   b.FriendCount,
	}
	if legacy {
		req.Items = []booking.ItemRequest{{
			RoomName:    strings.TrimSpace(b.RoomType),
			StationType: strings.TrimSpace(b.SystemType),
			Quantity:    b.NumberOfSystems,
		}}
		return req, nil
	}
	for _, s := range b.SystemsBooked {
		req.Items = append(req.Items, booking.ItemRequest{
			RoomName:    strings.TrimSpace(s.RoomType),
			StationType: strings.TrimSpace(s.SystemType),
			Quantity:    s.NumberOfSystems,
		})
	}
	return req, nil
}

type assignmentBody struct {
	RoomType   string   `json:"roomType"`
	SystemType string   `json:"systemType"`
	StationIDs []string `json:"stationIds"`
}

type assignBody struct {
	Code        string           `json:"code"`
	Assignments []assignmentBody `json:"assignments"`
}

func (b assignBody) toAssignRequest() booking.AssignRequest {
	req := booking.AssignRequest{Code: strings.TrimSpace(b.Code)}
	for _, a := range b.Assignments {
		req.Assignments = append(req.Assignments, booking.Assignment{
			RoomName:    strings.TrimSpace(a.RoomType),
			StationType: strings.TrimSpace(a.SystemType),
			StationIDs:  a.StationIDs,
		})
	}
	return req
}

type extendBody struct {
	Hours float64 `json:"hours"`
}

type cancelBody struct {
	Reason string `json:"reason"`
}

type maintenanceBody struct {
	UnderMaintenance *bool `json:"underMaintenance"`
}

type paymentBody struct {
	ReservationID    string `json:"reservationId"`
	PaymentMethod    string `json:"paymentMethod"`
	PaymentReference string `json:"paymentReference"`
}

type cancelResponse struct {
	Reservation *models.Reservation      `json:"reservation"`
	Refund      *models.RefundInstruction `json:"refund,omitempty"`
}
