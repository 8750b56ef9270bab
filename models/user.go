package models

import (
	"gorm.io/gorm"
)

// User owns campaigns, recipients and email profiles. Authentication lives in an
// external service; only the ownership anchor is kept here.
type User struct {
	gorm.Model
	Email string `gorm:"not null;uniqueIndex" json:"email"`
	Name  string `json:"name"`

	Campaigns     []Campaign     `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	EmailProfiles []EmailProfile `gorm:"foreignKey:UserID" json:"email_profiles,omitempty"`
}
