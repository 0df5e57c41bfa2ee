package gem

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-secs/secs2"
	"github.com/spf13/cast"
)

// Helpers for pulling typed scalars out of SECS-II items. Malformed shapes
// surface as errors so handlers can answer with the protocol's negative
// acknowledgment code instead of propagating a fault.

var errMalformedItem = errors.New("gem: malformed item")

// itemToUint32 reads a single unsigned identifier from an integer-typed item.
func itemToUint32(item secs2.Item) (uint32, error) {
	if item == nil {
		return 0, errMalformedItem
	}

	if values, err := item.ToUint(); err == nil {
		if len(values) == 0 {
			return 0, fmt.Errorf("%w: empty unsigned item", errMalformedItem)
		}
		return cast.ToUint32E(values[0])
	}

	if values, err := item.ToInt(); err == nil {
		if len(values) == 0 {
			return 0, fmt.Errorf("%w: empty signed item", errMalformedItem)
		}
		if values[0] < 0 {
			return 0, fmt.Errorf("%w: negative identifier %d", errMalformedItem, values[0])
		}
		return cast.ToUint32E(values[0])
	}

	return 0, fmt.Errorf("%w: expected integer item, got %s", errMalformedItem, item.Type())
}

// itemToUint32List reads a flat list of unsigned identifiers.
func itemToUint32List(item secs2.Item) ([]uint32, error) {
	entries, err := item.ToList()
	if err != nil {
		return nil, fmt.Errorf("%w: expected list, got %s", errMalformedItem, item.Type())
	}

	ids := make([]uint32, 0, len(entries))
	for _, entry := range entries {
		id, err := itemToUint32(entry)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// itemToByte reads a single byte from a binary item, tolerating the
// one-element unsigned encoding some hosts emit.
func itemToByte(item secs2.Item) (byte, error) {
	if item == nil {
		return 0, errMalformedItem
	}

	if raw, err := item.ToBinary(); err == nil {
		if len(raw) == 0 {
			return 0, fmt.Errorf("%w: empty binary item", errMalformedItem)
		}
		return raw[0], nil
	}

	if values, err := item.ToUint(); err == nil && len(values) > 0 {
		return cast.ToUint8E(values[0])
	}

	return 0, fmt.Errorf("%w: expected binary item, got %s", errMalformedItem, item.Type())
}

// listElement returns the idx-th element of a list item.
func listElement(item secs2.Item, idx int) (secs2.Item, error) {
	element, err := item.Get(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errMalformedItem, err)
	}
	return element, nil
}
