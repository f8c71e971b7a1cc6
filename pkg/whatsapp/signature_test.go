package whatsapp_test

import (
	"testing"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyChallenge(t *testing.T) {
	got, err := whatsapp.VerifyChallenge("subscribe", "s3cret", "1158201444", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "1158201444", got)

	cases := map[string][3]string{
		"wrong mode":         {"unsubscribe", "s3cret", "s3cret"},
		"wrong token":        {"subscribe", "nope", "s3cret"},
		"unconfigured token": {"subscribe", "", ""},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := whatsapp.VerifyChallenge(c[0], c[1], "x", c[2])
			assert.ErrorIs(t, err, domain.ErrChallengeFailed)
		})
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := whatsapp.Sign(body, "app-secret")

	assert.True(t, whatsapp.VerifySignature(body, header, "app-secret"))
	assert.False(t, whatsapp.VerifySignature(body, header, "other-secret"))
	assert.False(t, whatsapp.VerifySignature([]byte(`{}`), header, "app-secret"))
	assert.False(t, whatsapp.VerifySignature(body, header[len("sha256="):], "app-secret"), "prefix is required")
	assert.False(t, whatsapp.VerifySignature(body, "sha256=zz", "app-secret"))
}

func TestVerifier_Check(t *testing.T) {
	body := []byte(`{"a":1}`)
	v := whatsapp.Verifier{AppSecret: "k", Enforce: true}

	assert.NoError(t, v.Check(body, whatsapp.Sign(body, "k")))
	assert.ErrorIs(t, v.Check(body, ""), domain.ErrMissingSignature)
	assert.ErrorIs(t, v.Check(body, whatsapp.Sign(body, "x")), domain.ErrInvalidSignature)

	lax := whatsapp.Verifier{AppSecret: "k"}
	assert.NoError(t, lax.Check(body, ""))
}
