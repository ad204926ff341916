// Package codec はチャットプロトコルの長さプレフィックス付きフレームの
// エンコード・デコードを提供する。
//
// ワイヤ形式: uint16 message_id (BE) | uint16 body_len (BE) | body。
// フレーム境界はトランスポートの読み書き境界と一致しない前提で、
// デコーダーはio.Readerから必要なバイト数が揃うまで読み進める。
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen はフレームヘッダーのバイト数。
	HeaderLen = 4

	// MaxBodyLen はボディ長の上限。u16長フィールドの上限と一致する。
	MaxBodyLen = 0xFFFF
)

// ErrConnectionLost はフレームが揃う前にストリームが閉じたことを示す。
// デコードエラー（プロトコル違反）とは区別される。
var ErrConnectionLost = errors.New("connection lost before a full frame")

// ProtocolError はワイヤ上のプロトコル違反を表す。接続致命エラー。
type ProtocolError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Message は1つのデコード済みフレーム。
type Message struct {
	ID   uint16
	Body []byte
}

// Encode はメッセージIDとボディから1フレーム分のバイト列を生成する。
// ボディがu16長に収まらない場合はエラーを返す。
func Encode(id uint16, body []byte) ([]byte, error) {
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("body length %d exceeds %d", len(body), MaxBodyLen)
	}

	buf := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(body)))
	copy(buf[HeaderLen:], body)
	return buf, nil
}

// Decoder はio.Readerから連続したフレームを読み出す。
// 読み出し境界に依存しないため、1バイトずつ届いても任意の位置で
// 分割されても同じ列が得られる。接続をまたいだ再利用はしないこと。
type Decoder struct {
	r       io.Reader
	maxBody int
	header  [HeaderLen]byte
}

// NewDecoder はrを読み元とするDecoderを生成する。
// ボディ長の上限はMaxBodyLen。
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderWithLimit(r, MaxBodyLen)
}

// NewDecoderWithLimit はボディ長の上限を指定してDecoderを生成する。
// 上限を超える長さを宣言するフレームはProtocolErrorになる。
func NewDecoderWithLimit(r io.Reader, maxBody int) *Decoder {
	return &Decoder{r: r, maxBody: maxBody}
}

// Next は次の1フレームを読み出す。
//
// フレーム間の正常な切断はio.EOFを返す。ヘッダーまたはボディの途中で
// ストリームが閉じた場合はErrConnectionLostを返す。ボディ長の上限を
// 超える宣言はProtocolErrorを返す。
func (d *Decoder) Next() (Message, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrConnectionLost
		}
		return Message{}, fmt.Errorf("read frame header: %w", err)
	}

	id := binary.BigEndian.Uint16(d.header[0:2])
	bodyLen := binary.BigEndian.Uint16(d.header[2:4])
	if int(bodyLen) > d.maxBody {
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("declared body length %d exceeds limit %d", bodyLen, d.maxBody)}
	}

	msg := Message{ID: id}
	if bodyLen > 0 {
		msg.Body = make([]byte, bodyLen)
		if _, err := io.ReadFull(d.r, msg.Body); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return Message{}, ErrConnectionLost
			}
			return Message{}, fmt.Errorf("read frame body: %w", err)
		}
	}

	return msg, nil
}
