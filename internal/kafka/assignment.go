package kafka

import (
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kbin"
)

// ErrMalformedAssignment is returned for member assignment payloads that are
// truncated or carry impossible lengths.
var ErrMalformedAssignment = errors.New("malformed member assignment")

// ParseAssignment decodes the consumer protocol assignment a group
// coordinator hands to a member:
//
//	version      int16 (ignored)
//	topics       int32
//	  name       int16 length + bytes
//	  partitions int32 count + count * int32
//
// All integers are big-endian. Bytes following the topic list (user data)
// are ignored. A payload that ends early yields an error and no assignments.
func ParseAssignment(b []byte) ([]MemberAssignment, error) {
	r := kbin.Reader{Src: b}

	r.Int16() // version
	topics := r.Int32()
	if !r.Ok() {
		return nil, fmt.Errorf("%w: short header", ErrMalformedAssignment)
	}
	if topics < 0 {
		return nil, fmt.Errorf("%w: negative topic count %d", ErrMalformedAssignment, topics)
	}

	out := make([]MemberAssignment, 0, min(int(topics), len(r.Src)/6))
	for i := int32(0); i < topics; i++ {
		nameLen := r.Int16()
		if nameLen < 0 {
			return nil, fmt.Errorf("%w: negative topic name length %d", ErrMalformedAssignment, nameLen)
		}
		name := string(r.Span(int(nameLen)))

		count := r.Int32()
		if !r.Ok() {
			return nil, fmt.Errorf("%w: topic entry %d truncated", ErrMalformedAssignment, i)
		}
		if count < 0 {
			return nil, fmt.Errorf("%w: negative partition count %d for %q", ErrMalformedAssignment, count, name)
		}
		if int(count) > len(r.Src)/4 {
			return nil, fmt.Errorf("%w: %d partitions declared for %q, %d bytes left",
				ErrMalformedAssignment, count, name, len(r.Src))
		}

		partitions := make([]int32, count)
		for j := range partitions {
			partitions[j] = r.Int32()
		}
		out = append(out, MemberAssignment{Topic: name, Partitions: partitions})
	}

	if !r.Ok() {
		return nil, fmt.Errorf("%w: truncated", ErrMalformedAssignment)
	}
	return out, nil
}
