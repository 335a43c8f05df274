package assignment

import (
	"github.com/twmb/franz-go/pkg/kbin"
	"unicode/utf8"
)

// TopicAssignment is the set of partitions of one topic assigned to a member
type TopicAssignment struct {
	Topic      string  `json:"topic"`
	Partitions []int32 `json:"partitions"`
}

// Decode parses a consumer protocol member assignment:
//
//	int16 version
//	int32 topic count
//	  int16 name length, name bytes
//	  int32 partition count, int32 partition ids
//
// The version is read but not checked; every version is decoded with this
// layout. Bytes after the topic list (user data) are ignored. An empty payload
// means the member has no assignment yet and decodes to an empty slice.
func Decode(payload []byte) ([]TopicAssignment, error) {
	if len(payload) == 0 {
		return []TopicAssignment{}, nil
	}

	d := decoder{src: payload, r: kbin.Reader{Src: payload}}

	d.int16("version")
	topicCount := d.int32("topic count")
	if d.err != nil {
		return nil, d.err
	}

	assignments := make([]TopicAssignment, 0, clampCount(topicCount))
	for i := int32(0); i < topicCount; i++ {
		name := d.string("topic name")
		partitionCount := d.int32("partition count")
		if d.err != nil {
			return nil, d.err
		}

		partitions := make([]int32, 0, clampCount(partitionCount))
		for p := int32(0); p < partitionCount; p++ {
			id := d.int32("partition id")
			if d.err != nil {
				return nil, d.err
			}
			partitions = append(partitions, id)
		}

		assignments = append(assignments, TopicAssignment{Topic: name, Partitions: partitions})
	}

	return assignments, nil
}

// clampCount keeps a declared count from driving a huge allocation before the
// reads that back it have been validated
func clampCount(n int32) int {
	switch {
	case n < 0:
		return 0
	case n > 64:
		return 64
	}
	return int(n)
}

type decoder struct {
	src []byte
	r   kbin.Reader
	err error
}

func (d *decoder) offset() int {
	return len(d.src) - len(d.r.Src)
}

func (d *decoder) fail(field string, offset int, err error) {
	if d.err == nil {
		d.err = &DecodeError{Err: err, Field: field, Offset: offset}
	}
}

func (d *decoder) int16(field string) int16 {
	if d.err != nil {
		return 0
	}
	at := d.offset()
	v := d.r.Int16()
	if !d.r.Ok() {
		d.fail(field, at, ErrTruncated)
	}
	return v
}

func (d *decoder) int32(field string) int32 {
	if d.err != nil {
		return 0
	}
	at := d.offset()
	v := d.r.Int32()
	if !d.r.Ok() {
		d.fail(field, at, ErrTruncated)
	}
	return v
}

func (d *decoder) string(field string) string {
	n := d.int16(field + " length")
	if d.err != nil {
		return ""
	}
	if n < 0 {
		return ""
	}

	at := d.offset()
	b := d.r.Span(int(n))
	if !d.r.Ok() {
		d.fail(field, at, ErrTruncated)
		return ""
	}
	if !utf8.Valid(b) {
		d.fail(field, at, ErrEncoding)
		return ""
	}
	return string(b)
}
