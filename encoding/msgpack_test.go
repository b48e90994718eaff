package encoding

import (
	"bytes"
	"sync"
	"testing"

	"github.com/juju/mgo/v3/bson"
)

func TestMarshal_OplogDocuments(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"string", "hello world"},
		{"int64", int64(9876543210)},
		{"bool", true},
		{"document", bson.M{"_id": bson.ObjectIdHex("553558b1af52440d7f965dbb"), "foo": "bar"}},
		{"update", bson.M{"$set": bson.M{"addition": "abc"}}},
		{"nested", bson.M{
			"user":  bson.M{"id": 123, "name": "bob"},
			"items": []string{"a", "b", "c"},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(tc.input)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if len(data) == 0 {
				t.Error("Expected non-empty result")
			}
		})
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	doc := bson.M{"z": 1, "a": 2, "m": bson.M{"y": "1", "b": "2"}}

	first, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(doc)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("equal documents encoded differently")
		}
	}
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	numGoroutines := 50
	iterations := 200

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				data := bson.M{
					"goroutine": id,
					"iteration": j,
					"ns":        "test.content",
				}
				result, err := Marshal(data)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				if len(result) == 0 {
					t.Error("Expected non-empty result")
					return
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestUnmarshal_ObjectIdAsString(t *testing.T) {
	oid := bson.ObjectIdHex("553558b1af52440d7f965dbb")
	data, err := Marshal(bson.M{"_id": oid})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result map[string]interface{}
	if err := Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	s, ok := result["_id"].(string)
	if !ok {
		t.Fatalf("Expected string type, got %T", result["_id"])
	}
	if bson.ObjectId(s) != oid {
		t.Errorf("ObjectId mismatch: got %x, want %x", s, string(oid))
	}
}

func TestMarshal_JSONTagFallback(t *testing.T) {
	type envelope struct {
		Namespace string `json:"ns"`
		Op        string `json:"op"`
	}

	data, err := Marshal(envelope{Namespace: "test.content", Op: "i"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result map[string]interface{}
	if err := Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if result["ns"] != "test.content" || result["op"] != "i" {
		t.Errorf("unexpected keys: %v", result)
	}

	var back envelope
	if err := Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Namespace != "test.content" {
		t.Errorf("Namespace mismatch: %q", back.Namespace)
	}
}

func BenchmarkMarshal(b *testing.B) {
	data := bson.M{
		"_id":    bson.ObjectIdHex("553558b1af52440d7f965dbb"),
		"name":   "benchmark test",
		"values": []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		"nested": bson.M{"key": "value"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(data)
	}
}
