package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"testing"
)

// chunkReader は内部バッファを指定サイズ刻みでしか返さないReader。
// トランスポートの読み出し境界とフレーム境界のずれを再現する。
type chunkReader struct {
	data  []byte
	sizes []int
	pos   int
	idx   int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	size := len(p)
	if c.idx < len(c.sizes) {
		if s := c.sizes[c.idx]; s < size {
			size = s
		}
		c.idx++
	}
	if remain := len(c.data) - c.pos; size > remain {
		size = remain
	}
	n := copy(p, c.data[c.pos:c.pos+size])
	c.pos += n
	return n, nil
}

// エンコード結果のヘッダーがビッグエンディアンであることを検証
func TestEncode_HeaderLayout(t *testing.T) {
	frame, err := Encode(1005, []byte(`{"uid":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := binary.BigEndian.Uint16(frame[0:2]); got != 1005 {
		t.Errorf("message id = %d, want 1005", got)
	}
	if got := binary.BigEndian.Uint16(frame[2:4]); got != 9 {
		t.Errorf("body len = %d, want 9", got)
	}
	if !bytes.Equal(frame[4:], []byte(`{"uid":0}`)) {
		t.Errorf("body = %q", frame[4:])
	}
}

// 空ボディのフレームをエンコード・デコードできることを検証
func TestEncode_EmptyBody(t *testing.T) {
	frame, err := Encode(1006, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frame) != HeaderLen {
		t.Fatalf("frame length = %d, want %d", len(frame), HeaderLen)
	}

	dec := NewDecoder(bytes.NewReader(frame))
	msg, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 1006 || len(msg.Body) != 0 {
		t.Errorf("msg = %+v", msg)
	}
}

// ボディ長がu16の上限を超える場合はエラーになることを検証
func TestEncode_BodyTooLarge(t *testing.T) {
	_, err := Encode(1005, make([]byte, MaxBodyLen+1))
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
}

// encodeFrames はテスト用のフレーム列を生成する。
func encodeFrames(t *testing.T, bodies []string) []byte {
	t.Helper()
	var stream []byte
	for i, body := range bodies {
		frame, err := Encode(uint16(1005+i), []byte(body))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		stream = append(stream, frame...)
	}
	return stream
}

// decodeAll はストリームからEOFまで全フレームを読み出す。
func decodeAll(t *testing.T, r io.Reader) []Message {
	t.Helper()
	dec := NewDecoder(r)
	var msgs []Message
	for {
		msg, err := dec.Next()
		if err == io.EOF {
			return msgs
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		msgs = append(msgs, msg)
	}
}

// 1回のReadで複数フレームが届いても元の列が復元されることを検証
func TestDecoder_ManyFramesInOneRead(t *testing.T) {
	bodies := []string{`{"uid":1}`, `{"uid":2}`, "", `{"uid":4,"token":"t"}`}
	stream := encodeFrames(t, bodies)

	msgs := decodeAll(t, bytes.NewReader(stream))

	if len(msgs) != len(bodies) {
		t.Fatalf("decoded %d frames, want %d", len(msgs), len(bodies))
	}
	for i, msg := range msgs {
		if msg.ID != uint16(1005+i) {
			t.Errorf("frame %d: id = %d, want %d", i, msg.ID, 1005+i)
		}
		if string(msg.Body) != bodies[i] {
			t.Errorf("frame %d: body = %q, want %q", i, msg.Body, bodies[i])
		}
	}
}

// 1バイトずつ届いても全フレームが順序どおり復元されることを検証
func TestDecoder_OneByteAtATime(t *testing.T) {
	bodies := []string{`{"uid":1}`, `{"uid":2,"token":"abc"}`, `{}`}
	stream := encodeFrames(t, bodies)

	sizes := make([]int, len(stream))
	for i := range sizes {
		sizes[i] = 1
	}
	msgs := decodeAll(t, &chunkReader{data: stream, sizes: sizes})

	if len(msgs) != len(bodies) {
		t.Fatalf("decoded %d frames, want %d", len(msgs), len(bodies))
	}
	for i, msg := range msgs {
		if string(msg.Body) != bodies[i] {
			t.Errorf("frame %d: body = %q, want %q", i, msg.Body, bodies[i])
		}
	}
}

// ヘッダー途中を含む任意の位置で分割されても復元されることを検証
func TestDecoder_RandomSplits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	frame := encodeFrames(t, []string{`{"uid":0}`})
	stream := bytes.Repeat(frame, 100)

	for trial := 0; trial < 20; trial++ {
		var sizes []int
		remain := len(stream)
		for remain > 0 {
			n := 1 + rng.Intn(7)
			if n > remain {
				n = remain
			}
			sizes = append(sizes, n)
			remain -= n
		}

		msgs := decodeAll(t, &chunkReader{data: stream, sizes: sizes})
		if len(msgs) != 100 {
			t.Fatalf("trial %d: decoded %d frames, want 100", trial, len(msgs))
		}
	}
}

// フレーム間での切断はio.EOF、フレーム途中での切断はErrConnectionLostに
// なることを検証
func TestDecoder_TruncatedStream(t *testing.T) {
	frame, err := Encode(1005, []byte(`{"uid":1}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tests := []struct {
		name    string
		cut     int
		wantErr error
	}{
		{name: "フレーム境界で切断", cut: len(frame), wantErr: io.EOF},
		{name: "ヘッダー途中で切断", cut: 2, wantErr: ErrConnectionLost},
		{name: "ボディ途中で切断", cut: len(frame) - 3, wantErr: ErrConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(bytes.NewReader(frame[:tt.cut]))
			if tt.cut == len(frame) {
				if _, err := dec.Next(); err != nil {
					t.Fatalf("first frame: %v", err)
				}
			}
			_, err := dec.Next()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// 上限を超えるボディ長の宣言がProtocolErrorになることを検証
func TestDecoder_BodyLengthOverLimit(t *testing.T) {
	frame, err := Encode(1005, make([]byte, 100))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := NewDecoderWithLimit(bytes.NewReader(frame), 99)
	_, err = dec.Next()

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}

// デコーダーが読み出し直後のバッファを使い回さないことを検証
func TestDecoder_BodiesAreIndependent(t *testing.T) {
	stream := encodeFrames(t, []string{`{"uid":1}`, `{"uid":2}`})
	msgs := decodeAll(t, bytes.NewReader(stream))

	msgs[0].Body[0] = 'X'
	if string(msgs[1].Body) != `{"uid":2}` {
		t.Errorf("second body corrupted: %q", msgs[1].Body)
	}
}
