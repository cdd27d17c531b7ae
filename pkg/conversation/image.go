package conversation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ImageContent is an image attached to a message, either pasted (raw bytes)
// or referenced by URL.
type ImageContent struct {
	ImageURL     string `json:"imageURL,omitempty"`
	ImageContent []byte `json:"imageContent,omitempty"`
	ImageName    string `json:"imageName"`
	MediaType    string `json:"mediaType"`
}

func NewImageContent(data []byte, mediaType string) *ImageContent {
	if mediaType == "" {
		mediaType = "image/png"
	}
	return &ImageContent{
		ImageContent: data,
		MediaType:    mediaType,
	}
}

func NewImageContentFromFile(path string) (*ImageContent, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return &ImageContent{
			ImageURL:  path,
			ImageName: filepath.Base(path),
		}, nil
	}
	return newImageContentFromLocalFile(path)
}

func newImageContentFromLocalFile(path string) (*ImageContent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %v", err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %v", err)
	}

	if fileInfo.Size() > 20*1024*1024 {
		return nil, fmt.Errorf("image size exceeds 20MB limit")
	}

	mediaType := getMediaTypeFromExtension(filepath.Ext(path))
	if mediaType == "" {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}

	return &ImageContent{
		ImageContent: content,
		ImageName:    fileInfo.Name(),
		MediaType:    mediaType,
	}, nil
}

func getMediaTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}

func (i *ImageContent) Clone() *ImageContent {
	if i == nil {
		return nil
	}
	ret := *i
	ret.ImageContent = append([]byte(nil), i.ImageContent...)
	return &ret
}

// CloneImages deep-copies a slice of attachments.
func CloneImages(images []*ImageContent) []*ImageContent {
	if images == nil {
		return nil
	}
	ret := make([]*ImageContent, len(images))
	for i, img := range images {
		ret[i] = img.Clone()
	}
	return ret
}
