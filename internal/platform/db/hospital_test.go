package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractHospitalID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Hospital-ID", "stmarys")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	hid := extractHospitalID(c, "default")
	if hid != "stmarys" {
		t.Errorf("expected stmarys, got %s", hid)
	}
}

func TestExtractHospitalID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?hospital_id=clinic_xyz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	hid := extractHospitalID(c, "default")
	if hid != "clinic_xyz" {
		t.Errorf("expected clinic_xyz, got %s", hid)
	}
}

func TestExtractHospitalID_FromJWT(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_hospital_id", "jwt_hospital")

	hid := extractHospitalID(c, "default")
	if hid != "jwt_hospital" {
		t.Errorf("expected jwt_hospital, got %s", hid)
	}
}

func TestExtractHospitalID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	hid := extractHospitalID(c, "default")
	if hid != "default" {
		t.Errorf("expected default, got %s", hid)
	}
}

func TestExtractHospitalID_Priority(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?hospital_id=query", nil)
	req.Header.Set("X-Hospital-ID", "header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_hospital_id", "jwt")

	// The JWT claim wins over header and query
	hid := extractHospitalID(c, "default")
	if hid != "jwt" {
		t.Errorf("expected jwt, got %s", hid)
	}
}

func TestHospitalIDPattern(t *testing.T) {
	valid := []string{"abc", "stmarys", "hospital_1", "A1B2"}
	for _, v := range valid {
		if !hospitalIDPattern.MatchString(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}

	invalid := []string{"", "st-marys", "st marys", "x;DROP SCHEMA", "a.b"}
	for _, v := range invalid {
		if hospitalIDPattern.MatchString(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestHospitalFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), HospitalIDKey, "stmarys")
	if got := HospitalFromContext(ctx); got != "stmarys" {
		t.Errorf("expected stmarys, got %s", got)
	}
	if got := HospitalFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %s", got)
	}
}

func TestConnFromContext_Empty(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil connection from empty context")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}
