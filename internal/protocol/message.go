// Package protocol defines the messages exchanged between the resolver and
// the site manager, the site identifier rules, and byte range handling.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindSiteLoading        Kind = "SITE_LOADING"
	KindSiteReady          Kind = "SITE_READY"
	KindSiteUnloaded       Kind = "SITE_UNLOADED"
	KindResourceRequest    Kind = "RESOURCE_REQUEST"
	KindResourceResponse   Kind = "RESOURCE_RESPONSE"
	KindMediaChunkResponse Kind = "MEDIA_CHUNK_RESPONSE"
)

var ErrUnknownKind = errors.New("unknown message type")

// Message is one of the concrete message types in this package.
type Message interface {
	Kind() Kind
	isMessage()
}

// SiteLoading is sent by the manager when a load begins.
type SiteLoading struct {
	Hash string `json:"hash"`
}

// SiteReady publishes the known file paths of a browsable site. It may be
// sent again for the same hash as more files become available.
type SiteReady struct {
	Hash      string   `json:"hash"`
	FileCount int      `json:"fileCount"`
	FileList  []string `json:"fileList"`
}

type SiteUnloaded struct{}

type ResourceRequest struct {
	URL       string `json:"url"`
	FilePath  string `json:"filePath"`
	RequestID string `json:"requestId"`
	Range     *Range `json:"range"`
}

// ResourceResponse answers a ResourceRequest. Nil Data means the file is
// not in the site.
type ResourceResponse struct {
	RequestID   string `json:"requestId"`
	URL         string `json:"url"`
	Data        []byte `json:"data"`
	ContentType string `json:"contentType"`
}

// MediaChunkResponse answers a ranged request for media that is still
// streaming in. Start and End are inclusive offsets into a body of Total
// bytes.
type MediaChunkResponse struct {
	RequestID   string `json:"requestId"`
	Chunk       []byte `json:"chunk"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	Total       int64  `json:"total"`
	ContentType string `json:"contentType"`
}

func (SiteLoading) Kind() Kind        { return KindSiteLoading }
func (SiteReady) Kind() Kind          { return KindSiteReady }
func (SiteUnloaded) Kind() Kind       { return KindSiteUnloaded }
func (ResourceRequest) Kind() Kind    { return KindResourceRequest }
func (ResourceResponse) Kind() Kind   { return KindResourceResponse }
func (MediaChunkResponse) Kind() Kind { return KindMediaChunkResponse }

func (SiteLoading) isMessage()        {}
func (SiteReady) isMessage()          {}
func (SiteUnloaded) isMessage()       {}
func (ResourceRequest) isMessage()    {}
func (ResourceResponse) isMessage()   {}
func (MediaChunkResponse) isMessage() {}

// Encode writes m as a JSON object tagged with its "type".
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case SiteLoading:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			SiteLoading
		}{v.Kind(), v})
	case SiteReady:
		if v.FileList == nil {
			v.FileList = []string{}
		}
		return json.Marshal(struct {
			Type Kind `json:"type"`
			SiteReady
		}{v.Kind(), v})
	case SiteUnloaded:
		return json.Marshal(struct {
			Type Kind `json:"type"`
		}{v.Kind()})
	case ResourceRequest:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			ResourceRequest
		}{v.Kind(), v})
	case ResourceResponse:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			ResourceResponse
		}{v.Kind(), v})
	case MediaChunkResponse:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			MediaChunkResponse
		}{v.Kind(), v})
	case nil:
		return nil, fmt.Errorf("encode: nil message")
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownKind)
	}
}

func Decode(b []byte) (Message, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var (
		m   Message
		err error
	)
	switch head.Type {
	case KindSiteLoading:
		var v SiteLoading
		err = json.Unmarshal(b, &v)
		m = v
	case KindSiteReady:
		var v SiteReady
		err = json.Unmarshal(b, &v)
		m = v
	case KindSiteUnloaded:
		m = SiteUnloaded{}
	case KindResourceRequest:
		var v ResourceRequest
		err = json.Unmarshal(b, &v)
		m = v
	case KindResourceResponse:
		var v ResourceResponse
		err = json.Unmarshal(b, &v)
		m = v
	case KindMediaChunkResponse:
		var v MediaChunkResponse
		err = json.Unmarshal(b, &v)
		m = v
	default:
		return nil, fmt.Errorf("decode %q: %w", head.Type, ErrUnknownKind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return m, nil
}
