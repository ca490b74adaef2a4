package services_test

import (
	"testing"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/services"
)

func TestFormCredentialMarkers(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		username string
		password string
	}{
		{"plain", "username=admin&password=1234", "admin", "1234"},
		{"alternate markers", "user=root&pass=toor", "root", "toor"},
		{"login and pwd", "login=pi&pwd=raspberry", "pi", "raspberry"},
		{"uname and passwd", "uname=ubnt&passwd=ubnt", "ubnt", "ubnt"},
		{"value at end of input", "password=trailing", "", "trailing"},
		{"no markers", "foo=bar&baz=qux", "", ""},
		{"empty value", "username=&password=x", "", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, pass := services.ExtractFormCredentials(tt.data)
			if user != tt.username {
				t.Errorf("username = %q, want %q", user, tt.username)
			}
			if pass != tt.password {
				t.Errorf("password = %q, want %q", pass, tt.password)
			}
		})
	}
}

func TestFormCredentialDecoding(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"plus as space", "password=sup+er", "sup er"},
		{"percent escape", "password=p%40ss", "p@ss"},
		{"uppercase hex", "password=p%2Fss", "p/ss"},
		{"lowercase hex", "password=p%2fss", "p/ss"},
		{"malformed escape kept literal", "password=p%zzss", "p%zzss"},
		{"trailing percent kept literal", "password=pass%", "pass%"},
		{"short escape kept literal", "password=pass%4", "pass%4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, pass := services.ExtractFormCredentials(tt.data)
			if pass != tt.want {
				t.Errorf("password = %q, want %q", pass, tt.want)
			}
		})
	}
}

func TestLaterMarkerOverwritesEarlier(t *testing.T) {
	user, _ := services.ExtractFormCredentials("user=first&login=second")
	if user != "second" {
		t.Errorf("username = %q, want the later marker to win", user)
	}
}
