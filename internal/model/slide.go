package model

import "time"

// SlideInfo is the metadata for one staged slide, read through a short-lived
// decoder handle.
type SlideInfo struct {
	Name           string  `json:"name"`
	Filename       string  `json:"filename"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Levels         int     `json:"levels"`
	FileSize       int64   `json:"fileSize"`
	MPP            float64 `json:"mpp,omitempty"`
	ObjectivePower float64 `json:"objectivePower,omitempty"`
	Vendor         string  `json:"vendor,omitempty"`
}

// SlideSummary is one entry in the slide listing.
type SlideSummary struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Converted bool   `json:"converted"`
	Viewable  bool   `json:"viewable"`
}

type SlideListResponse struct {
	Slides []SlideSummary `json:"slides"`
}

type UploadResponse struct {
	Success  bool       `json:"success"`
	Filename string     `json:"filename"`
	Name     string     `json:"name"`
	Info     *SlideInfo `json:"info,omitempty"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GCSFile describes one slide object in the staging bucket.
type GCSFile struct {
	Name    string     `json:"name"`
	Path    string     `json:"path"`
	Size    int64      `json:"size"`
	Updated *time.Time `json:"updated,omitempty"`
}

type GCSListResponse struct {
	Files []GCSFile `json:"files"`
}

type GCSStatusResponse struct {
	Available         bool    `json:"available"`
	CredentialsFound  bool    `json:"credentialsFound"`
	ClientInitialized bool    `json:"clientInitialized"`
	BucketName        string  `json:"bucketName"`
	Error             *string `json:"error,omitempty"`
}

type GCSDownloadResponse struct {
	Success    bool   `json:"success"`
	Filename   string `json:"filename"`
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	LocalPath  string `json:"localPath"`
	Downloaded bool   `json:"downloaded"`
	Converted  bool   `json:"converted"`
	Viewable   bool   `json:"viewable"`
	Message    string `json:"message,omitempty"`
}

type GCSSignedURLResponse struct {
	Success   bool      `json:"success"`
	SignedURL string    `json:"signedUrl"`
	Filename  string    `json:"filename"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expiresAt"`
}
