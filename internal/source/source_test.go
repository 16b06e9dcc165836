package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/config"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"object", `{"id":"a"}`, 1, false},
		{"array", ` [{"id":"a"},{"id":"b"}] `, 2, false},
		{"array keeps non-objects for the engine to reject", `[{"id":"a"}, 3]`, 2, false},
		{"empty", "  ", 0, true},
		{"scalar", `"x"`, 0, true},
		{"truncated", `{"id":`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDecode_KeepsLargeIntegerIDs(t *testing.T) {
	got, err := Decode([]byte(`[{"id": 9007199254740993}, {"id": 9007199254740992}]`))
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(got))
	for _, raw := range got {
		n, ok := raw.(map[string]interface{})["id"].(json.Number)
		if !ok {
			t.Fatalf("id decoded as %T, want json.Number", raw.(map[string]interface{})["id"])
		}
		ids = append(ids, n.String())
	}
	if ids[0] != "9007199254740993" || ids[1] != "9007199254740992" {
		t.Errorf("ids = %v", ids)
	}
}

func TestChunks(t *testing.T) {
	raws := []interface{}{1, 2, 3, 4, 5}
	got := chunks(raws, 2)
	if fmt.Sprint(got) != "[[1 2] [3 4] [5]]" {
		t.Errorf("chunks = %v", got)
	}
	if got := chunks(nil, 2); len(got) != 0 {
		t.Errorf("chunks(nil) = %v", got)
	}
}

func TestCollect_FlushesOnSizeAndClose(t *testing.T) {
	in := make(chan int)
	var batches [][]int
	done := make(chan struct{})
	go func() {
		collect(in, Settings{BatchSize: 2, FlushInterval: time.Hour}, func(b []int) {
			batches = append(batches, b)
		})
		close(done)
	}()
	for i := 1; i <= 5; i++ {
		in <- i
	}
	close(in)
	<-done
	if fmt.Sprint(batches) != "[[1 2] [3 4] [5]]" {
		t.Errorf("batches = %v", batches)
	}
}

func TestCollect_FlushesOnInterval(t *testing.T) {
	in := make(chan int)
	flushed := make(chan []int, 1)
	go collect(in, Settings{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, func(b []int) {
		flushed <- b
	})
	defer close(in)
	in <- 7
	select {
	case b := <-flushed:
		if len(b) != 1 || b[0] != 7 {
			t.Errorf("batch = %v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interval flush did not happen")
	}
}

func TestSubmit(t *testing.T) {
	var (
		mu    sync.Mutex
		sizes []int
	)
	h := func(_ context.Context, raws []interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(raws))
		if len(sizes) == 2 {
			return errors.New("queue full")
		}
		return nil
	}
	raws := make([]interface{}, 7)
	err := submit(context.Background(), "test", h, 3, raws)
	if err == nil {
		t.Error("expected first handler error to be returned")
	}
	if fmt.Sprint(sizes) != "[3 3 1]" {
		t.Errorf("sizes = %v, want every chunk submitted", sizes)
	}
	if err := submit(context.Background(), "test", h, 3, nil); err != nil {
		t.Errorf("empty submit: %v", err)
	}
}

func TestDecodeAll_SkipsBadMessages(t *testing.T) {
	got := decodeAll("test", [][]byte{
		[]byte(`{"id":"a"}`),
		[]byte(`not json`),
		[]byte(`[{"id":"b"},{"id":"c"}]`),
	})
	if len(got) != 3 {
		t.Errorf("decoded %d, want 3", len(got))
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	if s.BatchSize != 100 || s.FlushInterval != time.Second || s.MaxBatch != 100 {
		t.Errorf("defaults = %+v", s)
	}
}

func TestConstructorsValidate(t *testing.T) {
	noop := func(context.Context, []interface{}) error { return nil }
	if _, err := NewRedis(config.RedisSourceConf{}, Settings{}, noop); err == nil {
		t.Error("redis source without key should fail")
	}
	r, err := NewRedis(config.RedisSourceConf{RedisConf: config.RedisConf{Key: "raw"}}, Settings{}, noop)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	if _, err := NewKafka(config.KafkaSourceConf{Topic: "raw"}, Settings{}, noop); err == nil {
		t.Error("kafka source without brokers should fail")
	}
	if _, err := NewKafka(config.KafkaSourceConf{Brokers: []string{"localhost:9092"}}, Settings{}, noop); err == nil {
		t.Error("kafka source without topic should fail")
	}
}
