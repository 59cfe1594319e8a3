package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bonecraft.ai/internal/protocol"
)

// doc is the stored form of a listing; the id is the key it lives under.
type doc struct {
	Item   string `json:"item"`
	Price  int64  `json:"price"`
	Qty    int    `json:"qty,omitempty"`
	Seller string `json:"seller"`
	Time   stamp  `json:"time"`
}

func (d doc) listing(id string) protocol.Listing {
	qty := d.Qty
	if qty <= 0 {
		qty = 1
	}
	return protocol.Listing{
		ID:     id,
		Item:   d.Item,
		Price:  d.Price,
		Qty:    qty,
		Seller: d.Seller,
		Time:   time.Time(d.Time),
	}
}

// stamp is written as RFC 3339 and also reads the "2006-01-02 15:04:05"
// strings and unix-second numbers older listings carry.
type stamp time.Time

const legacyLayout = "2006-01-02 15:04:05"

func (s stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(s).Format(time.RFC3339Nano))
}

func (s *stamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = stamp{}
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("listing time: %w", err)
		}
		sec := int64(f)
		*s = stamp(time.Unix(sec, int64((f-float64(sec))*1e9)).UTC())
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339Nano, legacyLayout} {
		if t, err := time.Parse(layout, str); err == nil {
			*s = stamp(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("listing time: unrecognized %q", str)
}
