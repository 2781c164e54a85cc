// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"encoding/json"
	"io"
)

// ItemReader is the interface expected by a Loader to retrieve items from
// a source for loading into a DynamoDB table.  ReadItem returns io.EOF once
// the source is exhausted.
type ItemReader interface {
	ReadItem() (item Item, err error)
}

// SimpleDecoder implements the ItemReader interface to convert a stream of
// JSON encoded DynamoDB items, as produced by dyndump, into items.
type SimpleDecoder struct {
	jd *json.Decoder
}

// NewSimpleDecoder creates and initializes a new SimpleDecoder.
func NewSimpleDecoder(r io.Reader) *SimpleDecoder {
	return &SimpleDecoder{
		jd: json.NewDecoder(r),
	}
}

// ReadItem implements ItemReader.
func (d *SimpleDecoder) ReadItem() (item Item, err error) {
	err = d.jd.Decode(&item)
	return item, err
}
