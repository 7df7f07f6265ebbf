package archive

import "time"

// ArchivedSession is the final state of a session that ended.
type ArchivedSession struct {
	ID          string `gorm:"primaryKey"`
	Version     int64
	FirstID     string `gorm:"index"`
	FirstName   string
	SecondID    string `gorm:"index"`
	SecondName  string
	Status      string `gorm:"index"`
	Winner      string
	EndReason   string
	FinalBoard  string
	MoveHistory string
	InitialMs   *int64
	IncrementMs *int64
	CreatedAt   time.Time
	EndedAt     time.Time `gorm:"index"`
	Moves       []ArchivedMove `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE;"`
}

// ArchivedMove stores a single ply of an archived session.
type ArchivedMove struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;uniqueIndex:idx_session_ply"`
	Ply       int    `gorm:"uniqueIndex:idx_session_ply"`
	UCI       string
	Color     string
}
