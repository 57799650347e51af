package models

import (
	"github.com/shopspring/decimal"
)

// Listing represents a marketplace product listing whose price alerts watch.
// The wider listing CRUD surface lives outside this service; the engine only
// reads the fields required for evaluation.
type Listing struct {
	BaseModel

	FarmerID    string          `gorm:"type:uuid;index" json:"farmer_id"`
	ProductName string          `gorm:"type:varchar(255);not null" json:"product_name"`
	Category    string          `gorm:"type:varchar(64);index" json:"category"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	Unit        string          `gorm:"type:varchar(32)" json:"unit"`
	IsAvailable bool            `gorm:"default:true;index" json:"is_available"`
}
