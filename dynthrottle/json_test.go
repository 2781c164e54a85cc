// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

var attrTests = []struct {
	name     string
	src      string
	expected *dynamodb.AttributeValue
	size     int
}{
	{"bytes", `{"k":{"B":"Zm9v"}}`, &dynamodb.AttributeValue{B: []byte("foo")}, 4},
	{"bool", `{"k":{"BOOL":true}}`, &dynamodb.AttributeValue{BOOL: aws.Bool(true)}, 2},
	{"binary-set", `{"k":{"BS":["Zm9v","YmFy"]}}`, &dynamodb.AttributeValue{BS: [][]byte{[]byte("foo"), []byte("bar")}}, 10},
	{"attr-list", `{"k":{"L":[{"S":"str"},{"BS":["Zm9v","YmFy"]}]}}`, &dynamodb.AttributeValue{L: []*dynamodb.AttributeValue{
		{S: aws.String("str")},
		{BS: [][]byte{[]byte("foo"), []byte("bar")}},
	}}, 16},
	{"attr-map", `{"k":{"M":{"key1":{"S":"str"}}}}`, &dynamodb.AttributeValue{M: map[string]*dynamodb.AttributeValue{
		"key1": {S: aws.String("str")},
	}}, 11},
	{"number", `{"k":{"N":"123.456"}}`, &dynamodb.AttributeValue{N: aws.String("123.456")}, 8},
	{"number-set", `{"k":{"NS":["123","456"]}}`, &dynamodb.AttributeValue{NS: []*string{aws.String("123"), aws.String("456")}}, 10},
	{"null", `{"k":{"NULL":true}}`, &dynamodb.AttributeValue{NULL: aws.Bool(true)}, 2},
	{"string", `{"k":{"S":"foo"}}`, &dynamodb.AttributeValue{S: aws.String("foo")}, 4},
	{"string-set", `{"k":{"SS":["foo","bar"]}}`, &dynamodb.AttributeValue{SS: []*string{aws.String("foo"), aws.String("bar")}}, 10},
}

func TestSimpleDecoder(t *testing.T) {
	for _, test := range attrTests {
		item, err := NewSimpleDecoder(strings.NewReader(test.src)).ReadItem()
		if err != nil {
			t.Errorf("Unexpected error test=%q error=%v", test.name, err)
			continue
		}
		expected := Item{"k": test.expected}
		if !reflect.DeepEqual(item, expected) {
			t.Errorf("test=%q expected=%#v actual=%#v", test.name, expected, item)
		}
	}
}

func TestItemSize(t *testing.T) {
	for _, test := range attrTests {
		if size := itemSize(Item{"k": test.expected}); size != int64(test.size) {
			t.Errorf("test=%q expected=%d actual=%d", test.name, test.size, size)
		}
	}
}

func TestSimpleDecoderStream(t *testing.T) {
	dec := NewSimpleDecoder(strings.NewReader(`{"v":{"N":"1"}}
{"v":{"N":"2"}}
`))
	var vals []string
	for {
		item, err := dec.ReadItem()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal("Unexpected error", err)
		}
		vals = append(vals, aws.StringValue(item["v"].N))
	}
	if !reflect.DeepEqual(vals, []string{"1", "2"}) {
		t.Error("Incorrect items decoded", vals)
	}
}
