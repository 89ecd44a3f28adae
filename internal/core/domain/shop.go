package domain

import "time"

type Shop struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	TypeID    uint64    `json:"typeId"`
	Address   string    `json:"address"`
	AvgPrice  int64     `json:"avgPrice"`
	Sold      int       `json:"sold"`
	Score     int       `json:"score"`
	OpenHours string    `json:"openHours"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
