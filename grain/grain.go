// Package grain defines the event messages delivered over query API
// WebSockets
package grain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/nmoshub/queryd/resource"
)

const (
	eventGrainType = "event"
	dataEventType  = "urn:x-nmos:format:data.event"
)

// Rational is a zero-based fraction used for the grain rate and duration
type Rational struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Entry is one resource delta inside a grain; a create carries no pre image
// and a delete no post image
type Entry struct {
	Path string            `json:"path"`
	Pre  resource.Document `json:"pre,omitempty"`
	Post resource.Document `json:"post,omitempty"`
}

// Data is the event payload of a grain
type Data struct {
	Type  string  `json:"type"`
	Topic string  `json:"topic"`
	Data  []Entry `json:"data"`
}

// Grain is one outgoing WebSocket message
type Grain struct {
	GrainType         string   `json:"grain_type"`
	SourceID          string   `json:"source_id"`
	FlowID            string   `json:"flow_id"`
	OriginTimestamp   string   `json:"origin_timestamp"`
	SyncTimestamp     string   `json:"sync_timestamp"`
	CreationTimestamp string   `json:"creation_timestamp"`
	Rate              Rational `json:"rate"`
	Duration          Rational `json:"duration"`
	Grain             Data     `json:"grain"`
}

var (
	sourceOnce sync.Once
	sourceID   uuid.UUID
)

// SourceID returns the grain source id, stable for the lifetime of the
// process: a version 3 UUID over the pid and hostname
func SourceID() uuid.UUID {
	sourceOnce.Do(func() {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		sourceID = uuid.NewV3(uuid.NamespaceDNS, strconv.Itoa(os.Getpid())+host)
	})
	return sourceID
}

// Timestamp renders t in the "<seconds>:<nanoseconds>" form grains carry
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%d:%09d", t.Unix(), t.Nanosecond())
}

// Topic renders a subscription resource path as a grain topic
func Topic(resourcePath string) string {
	if resourcePath == "" || resourcePath == "/" {
		return "/"
	}
	if strings.HasSuffix(resourcePath, "/") {
		return resourcePath
	}
	return resourcePath + "/"
}

// New assembles a grain for the given subscription flow with emission
// timestamps taken now
func New(flowID, topic string, entries []Entry) *Grain {
	now := Timestamp(time.Now())
	return &Grain{
		GrainType:         eventGrainType,
		SourceID:          SourceID().String(),
		FlowID:            flowID,
		OriginTimestamp:   now,
		SyncTimestamp:     now,
		CreationTimestamp: now,
		Rate:              Rational{Denominator: 1},
		Duration:          Rational{Denominator: 1},
		Grain: Data{
			Type:  dataEventType,
			Topic: topic,
			Data:  entries,
		},
	}
}
