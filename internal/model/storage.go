package model

import "time"

// SignedURLRequest is the signed URL gateway request body.
type SignedURLRequest struct {
	Filename     string       `json:"filename" validate:"required,max=1024"`
	ClientMethod ClientMethod `json:"client_method" validate:"required,oneof=get put"`
	ExpiresIn    int          `json:"expires_in,omitempty" validate:"omitempty,min=1,max=604800"`
}

// SignedURLResponse carries either a plain URL or the relay pair.
type SignedURLResponse struct {
	URL          string `json:"url,omitempty"`
	UploadURL    string `json:"uploadUrl,omitempty"`
	PresignedURL string `json:"presignedUrl,omitempty"`
}

// IsRelay reports whether the upload must go through the relay endpoint.
func (r SignedURLResponse) IsRelay() bool {
	return r.UploadURL != "" && r.PresignedURL != ""
}

// SignedURLError is the gateway's error body.
type SignedURLError struct {
	Error string `json:"error"`
}

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

type ListObjectsResponse struct {
	Prefix  string       `json:"prefix"`
	Objects []ObjectInfo `json:"objects"`
}

type RelayUploadResponse struct {
	Success bool  `json:"success"`
	Size    int64 `json:"size"`
}
