package entities

import (
	"courtcam/constant"
	"github.com/google/uuid"
	"time"
)

// Asset is a media file under the media root: a still, a recording, an upload
// or anything derived from one.
type Asset struct {
	ID        uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	Kind      constant.AssetKind `json:"kind" gorm:"index"`
	Path      string             `json:"path"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Frames    int                `json:"frames"`
	FPS       float64            `json:"fps"`
	Duration  float64            `json:"duration"`
	CreatedAt time.Time          `json:"created_at"`
}

func (Asset) TableName() string {
	return "assets"
}

// InputToken authorises exactly one job submission for a video asset.
type InputToken struct {
	Token     uuid.UUID `json:"token" gorm:"type:uuid;primaryKey"`
	AssetID   uuid.UUID `json:"asset_id" gorm:"type:uuid;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (InputToken) TableName() string {
	return "input_tokens"
}
