// Copyright 2019 The OpenZipkin Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package b3 moves trace identifiers in and out of B3 propagation headers.
package b3

import (
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/openzipkin/zipkin-go/model"
	zb3 "github.com/openzipkin/zipkin-go/propagation/b3"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

const (
	traceIDHeader      = "x-b3-traceid"
	spanIDHeader       = "x-b3-spanid"
	parentSpanIDHeader = "x-b3-parentspanid"
	sampledHeader      = "x-b3-sampled"
	flagsHeader        = "x-b3-flags"
)

// ToSpanContext converts id into a zipkin-go span context.
func ToSpanContext(id models.TraceID) model.SpanContext {
	sc := model.SpanContext{
		TraceID: model.TraceID{Low: uint64(id.TraceID)},
		ID:      model.ID(id.SpanID),
		Debug:   id.IsDebug(),
	}
	if id.HasParent() {
		parent := model.ID(id.ParentID)
		sc.ParentID = &parent
	}
	if id.Flags.Has(models.FlagSamplingKnown) {
		sampled := id.Flags.Has(models.FlagSampled)
		sc.Sampled = &sampled
	}
	return sc
}

// FromSpanContext converts a zipkin-go span context into a TraceID. The
// high 64 bits of a 128 bit trace id are dropped.
func FromSpanContext(sc model.SpanContext) models.TraceID {
	id := models.TraceID{
		TraceID: models.ID(sc.TraceID.Low),
		SpanID:  models.ID(sc.ID),
	}
	if sc.ParentID != nil {
		id.ParentID = models.ID(*sc.ParentID)
	}
	if sc.Debug {
		id.Flags |= models.FlagDebug
	}
	if sc.Sampled != nil {
		id.Flags |= models.FlagSamplingKnown
		if *sc.Sampled {
			id.Flags |= models.FlagSampled
		}
	}
	return id
}

// InjectHTTP writes id into carrier, an opentracing.TextMapWriter such as
// opentracing.HTTPHeadersCarrier.
func InjectHTTP(id models.TraceID, carrier interface{}) error {
	c, ok := carrier.(opentracing.TextMapWriter)
	if !ok {
		return opentracing.ErrInvalidCarrier
	}

	sc := ToSpanContext(id)
	if sc.TraceID.Empty() || sc.ID == 0 {
		return zb3.ErrEmptyContext
	}

	c.Set(traceIDHeader, sc.TraceID.String())
	c.Set(spanIDHeader, sc.ID.String())
	if sc.ParentID != nil {
		c.Set(parentSpanIDHeader, sc.ParentID.String())
	}

	if sc.Debug {
		c.Set(flagsHeader, "1")
	} else if sc.Sampled != nil {
		if *sc.Sampled {
			c.Set(sampledHeader, "1")
		} else {
			c.Set(sampledHeader, "0")
		}
	}

	return nil
}

// ExtractHTTP reads a TraceID from carrier, an opentracing.TextMapReader.
// Header names are matched case insensitively.
func ExtractHTTP(carrier interface{}) (models.TraceID, error) {
	c, ok := carrier.(opentracing.TextMapReader)
	if !ok {
		return models.TraceID{}, opentracing.ErrInvalidCarrier
	}

	var (
		traceID      string
		spanID       string
		parentSpanID string
		sampled      string
		flags        string
	)

	err := c.ForeachKey(func(key, val string) error {
		switch strings.ToLower(key) {
		case traceIDHeader:
			traceID = val
		case spanIDHeader:
			spanID = val
		case parentSpanIDHeader:
			parentSpanID = val
		case sampledHeader:
			sampled = val
		case flagsHeader:
			flags = val
		}

		return nil
	})
	if err != nil {
		return models.TraceID{}, err
	}

	sc, err := zb3.ParseHeaders(traceID, spanID, parentSpanID, sampled, flags)
	if err != nil {
		return models.TraceID{}, err
	}
	if sc.TraceID.Empty() || sc.ID == 0 {
		return models.TraceID{}, zb3.ErrEmptyContext
	}
	return FromSpanContext(*sc), nil
}
