package signature

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Message 签名消息
type Message struct {
	ID          string          `json:"id,omitempty"`
	From        string          `json:"from"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	Signature   string          `json:"signature,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
}

// canonicalMode RFC 8949 核心确定性编码：map 键排序、最短整数编码、无不定长项
var canonicalMode cbor.EncMode

func init() {
	var err error
	canonicalMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("signature: CBOR encoder initialization failed: " + err.Error())
	}
}

// CanonicalHash 计算 payload 的规范摘要。payload 先按 JSON 解码为通用值，
// 再做确定性 CBOR 编码，因此字段顺序与空白不影响结果。
func CanonicalHash(payload json.RawMessage) ([32]byte, error) {
	var value any
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&value); err != nil {
		return [32]byte{}, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return [32]byte{}, fmt.Errorf("decode payload: trailing data")
	}
	encoded, err := canonicalMode.Marshal(value)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode canonical payload: %w", err)
	}
	return blake3.Sum256(encoded), nil
}

// MessageID 返回消息 ID，id 缺省时由 from、payload_hash 与 signature 派生。
func (m *Message) MessageID() string {
	if m.ID != "" {
		return m.ID
	}
	h := blake3.New()
	_, _ = h.Write([]byte(m.From))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.PayloadHash))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.Signature))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign 构造并签名一条消息，发送方与测试使用。
func Sign(priv ed25519.PrivateKey, from string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	sum, err := CanonicalHash(raw)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Message{
		ID:          uuid.NewString(),
		From:        from,
		Payload:     raw,
		PayloadHash: hex.EncodeToString(sum[:]),
		Signature:   base64.StdEncoding.EncodeToString(ed25519.Sign(priv, sum[:])),
		Timestamp:   &now,
	}, nil
}
