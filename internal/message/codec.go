package message

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

// Accepted body formats
const (
	ContentTypeJSON = "application/json"
	ContentTypeGob  = "application/x-gob"
)

// Codec serializes message bodies in one format
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var codecs = map[string]Codec{
	ContentTypeJSON: jsonCodec{},
	ContentTypeGob:  gobCodec{},
}

// CodecFor returns the codec registered for contentType
func CodecFor(contentType string) (Codec, error) {
	codec, ok := codecs[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: content type %q", domain.ErrUnsupportedFormat, contentType)
	}
	return codec, nil
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return ContentTypeJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type gobCodec struct{}

func (gobCodec) ContentType() string { return ContentTypeGob }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
