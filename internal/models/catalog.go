package models

// Project is the read-only view of a project owned by the operations app
type Project struct {
	ID     string `json:"id" gorm:"primaryKey"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// TableName override
func (Project) TableName() string {
	return "projects"
}

// CrewMember is the read-only view of a crew member
type CrewMember struct {
	ID         string  `json:"id" gorm:"primaryKey"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	HourlyRate float64 `json:"hourly_rate"`
}

// TableName override
func (CrewMember) TableName() string {
	return "crew_members"
}
