package auth

import "testing"

func TestDeviceTokenRoundTrip(t *testing.T) {
	token, err := GenerateDeviceToken("secret", "dev-123")
	if err != nil {
		t.Fatal(err)
	}

	deviceID, err := VerifyDeviceToken("secret", token)
	if err != nil {
		t.Fatal(err)
	}
	if deviceID != "dev-123" {
		t.Errorf("device ID = %q, want dev-123", deviceID)
	}
}

func TestVerifyDeviceTokenWrongSecret(t *testing.T) {
	token, err := GenerateDeviceToken("secret", "dev-123")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyDeviceToken("other-secret", token); err != ErrInvalidToken {
		t.Errorf("wrong secret error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyDeviceTokenGarbage(t *testing.T) {
	if _, err := VerifyDeviceToken("secret", "not.a.token"); err != ErrInvalidToken {
		t.Errorf("garbage token error = %v, want ErrInvalidToken", err)
	}
}
