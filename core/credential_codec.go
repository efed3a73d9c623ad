package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const CredentialFormatJSONV1 = "credential_record_json"

// JSONCredentialCodec reads and writes the credential file shape. Decoding
// accepts token files that only hold the raw token endpoint response.
type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialFormatJSONV1
}

type jsonCredentialPayload struct {
	AccessToken           string          `json:"access_token"`
	RefreshToken          string          `json:"refresh_token,omitempty"`
	RealmID               string          `json:"realm_id,omitempty"`
	TokenType             string          `json:"token_type,omitempty"`
	ExpiresIn             json.RawMessage `json:"expires_in,omitempty"`
	RefreshTokenExpiresIn json.RawMessage `json:"x_refresh_token_expires_in,omitempty"`
	NoRefresh             bool            `json:"no_refresh,omitempty"`
	IssuedAt              *time.Time      `json:"issued_at,omitempty"`
}

func (JSONCredentialCodec) Encode(record CredentialRecord) ([]byte, error) {
	payload := jsonCredentialPayload{
		AccessToken:  strings.TrimSpace(record.AccessToken),
		RefreshToken: strings.TrimSpace(record.RefreshToken),
		RealmID:      strings.TrimSpace(record.RealmID),
		TokenType:    strings.TrimSpace(record.TokenType),
		NoRefresh:    record.NoRefresh,
		IssuedAt:     cloneTimePointer(record.IssuedAt),
	}
	if record.ExpiresIn > 0 {
		payload.ExpiresIn = json.RawMessage(strconv.FormatInt(record.ExpiresIn, 10))
	}
	if record.RefreshTokenExpiresIn > 0 {
		payload.RefreshTokenExpiresIn = json.RawMessage(strconv.FormatInt(record.RefreshTokenExpiresIn, 10))
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(raw []byte) (CredentialRecord, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return CredentialRecord{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return CredentialRecord{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	expiresIn, err := decodeSeconds(decoded.ExpiresIn)
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("core: decode expires_in: %w", err)
	}
	refreshExpiresIn, err := decodeSeconds(decoded.RefreshTokenExpiresIn)
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("core: decode x_refresh_token_expires_in: %w", err)
	}
	return CredentialRecord{
		AccessToken:           strings.TrimSpace(decoded.AccessToken),
		RefreshToken:          strings.TrimSpace(decoded.RefreshToken),
		RealmID:               strings.TrimSpace(decoded.RealmID),
		TokenType:             strings.TrimSpace(decoded.TokenType),
		ExpiresIn:             expiresIn,
		RefreshTokenExpiresIn: refreshExpiresIn,
		NoRefresh:             decoded.NoRefresh,
		IssuedAt:              cloneTimePointer(decoded.IssuedAt),
	}, nil
}

// decodeSeconds accepts integers, floats and numeric strings.
func decodeSeconds(raw json.RawMessage) (int64, error) {
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if value == "" || value == "null" {
		return 0, nil
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int64(parsed), nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
