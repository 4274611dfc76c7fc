package utils

import "testing"

type sampleRequest struct {
	Name                 string `validate:"required,nameok"`
	Email                string `validate:"required,email,maxlen=254"`
	Password             string `validate:"required,pwdmin"`
	PasswordConfirmation string `validate:"required,eqfield=Password"`
}

func valid() sampleRequest {
	return sampleRequest{
		Name:                 "Ada Lovelace",
		Email:                "ada@example.com",
		Password:             "secret1",
		PasswordConfirmation: "secret1",
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	req := valid()
	if err := ValidateStruct(&req); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestValidateStruct_Rules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*sampleRequest)
	}{
		{"missing required", func(r *sampleRequest) { r.Name = "" }},
		{"bad email", func(r *sampleRequest) { r.Email = "not-an-email" }},
		{"short password", func(r *sampleRequest) { r.Password = "abc"; r.PasswordConfirmation = "abc" }},
		{"mismatched confirmation", func(r *sampleRequest) { r.PasswordConfirmation = "other1" }},
		{"invalid name characters", func(r *sampleRequest) { r.Name = "<script>" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			if err := ValidateStruct(&req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateStruct_MaxLen(t *testing.T) {
	req := valid()
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	req.Email = string(long) + "@x.io"
	if err := ValidateStruct(&req); err == nil {
		t.Fatal("expected maxlen violation")
	}
}
