package gvapsim

import (
	"math/big"
	"reflect"
	"strings"

	"github.com/vaporyco/gvaphive/internal/libgvap"
)

// Expect fails t unless got equals want. Values of different types are never equal.
func Expect(t *T, method string, got, want interface{}) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	t.Error(&libgvap.MismatchError{Method: method, Want: want, Got: got})
	return false
}

// ExpectPositive fails t unless v > 0.
func ExpectPositive(t *T, method string, v *big.Int) bool {
	if v != nil && v.Sign() > 0 {
		return true
	}
	t.Error(&libgvap.MismatchError{Method: method, Want: "> 0", Got: v})
	return false
}

// ExpectAtLeast fails t unless v >= min.
func ExpectAtLeast(t *T, method string, v, min uint64) bool {
	if v >= min {
		return true
	}
	t.Error(&libgvap.MismatchError{Method: method, Want: ">= " + new(big.Int).SetUint64(min).String(), Got: v})
	return false
}

// ExpectToken fails t unless the first "/"-separated token of s is token.
func ExpectToken(t *T, method, s, token string) bool {
	got := strings.SplitN(s, "/", 2)[0]
	return Expect(t, method, got, token)
}

// ExpectEqualFold fails t unless got and want are equal ignoring case.
func ExpectEqualFold(t *T, method, got, want string) bool {
	if strings.EqualFold(got, want) {
		return true
	}
	t.Error(&libgvap.MismatchError{Method: method, Want: want, Got: got})
	return false
}
