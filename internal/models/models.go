package models

import (
	"time"
)

// Sender values for Message.Sender.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// User represents an authenticated user of the system.
type User struct {
	ID              string    `bson:"_id" db:"id" json:"_id"`
	FirstName       string    `bson:"firstName" db:"first_name" json:"firstName"`
	LastName        string    `bson:"lastName" db:"last_name" json:"lastName"`
	MobileNumber    string    `bson:"mobileNumber" db:"mobile_number" json:"mobileNumber"`
	Email           string    `bson:"email" db:"email" json:"email"`
	PasswordHash    string    `bson:"password" db:"password_hash" json:"-"`
	UserType        string    `bson:"userType,omitempty" db:"user_type" json:"userType,omitempty"`
	Newsletter      bool      `bson:"newsletter" db:"newsletter" json:"newsletter"`
	FavoriteFeature string    `bson:"favoriteFeature" db:"favorite_feature" json:"favoriteFeature"`
	TotalChats      int       `bson:"totalChats" db:"total_chats" json:"totalChats"`
	CreatedAt       time.Time `bson:"createdAt" db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt" db:"updated_at" json:"updatedAt"`
}

// FileMetadata describes the file that was part of a conversation turn.
type FileMetadata struct {
	FileID        string `bson:"fileId,omitempty" json:"fileId,omitempty"`
	FileName      string `bson:"fileName" json:"fileName"`
	FileType      string `bson:"fileType" json:"fileType"` // pdf | docx | doc | txt | image
	MimeType      string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
	FileSize      int64  `bson:"fileSize" json:"fileSize"`
	ExtractedText string `bson:"extractedText,omitempty" json:"extractedText,omitempty"`
}

// Message is one turn of a chat session.
type Message struct {
	ID           string        `bson:"_id" json:"_id"`
	Sender       string        `bson:"sender" json:"sender"`
	Message      string        `bson:"message" json:"message"`
	Timestamp    time.Time     `bson:"timestamp" json:"timestamp"`
	FileMetadata *FileMetadata `bson:"fileMetadata,omitempty" json:"fileMetadata,omitempty"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool { return m.Sender == SenderUser }

// ChatSession is a persisted conversation thread owned by one user.
type ChatSession struct {
	ID             string    `bson:"_id" json:"_id"`
	UserID         string    `bson:"userId" json:"userId"`
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	Title          string    `bson:"title" json:"title"`
	Messages       []Message `bson:"messages" json:"messages"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

// StoredFile is the record kept for every uploaded blob.
type StoredFile struct {
	ID           string    `bson:"_id" json:"id"`
	UserID       string    `bson:"userId" json:"userId"`
	OriginalName string    `bson:"originalName" json:"originalName"`
	FileName     string    `bson:"fileName" json:"filename"`
	StorageKey   string    `bson:"storageKey" json:"-"`
	URL          string    `bson:"url" json:"url"`
	MimeType     string    `bson:"mimeType" json:"mimetype"`
	Size         int64     `bson:"size" json:"size"`
	UploadedAt   time.Time `bson:"uploadedAt" json:"uploadedAt"`
}

// Upload is a file received from a client, before validation.
type Upload struct {
	FileName string
	MimeType string
	Data     []byte
}

func (u Upload) Size() int64 { return int64(len(u.Data)) }
