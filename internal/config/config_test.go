package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckCountryCode(t *testing.T) {

	assert := assert.New(t)

	code, err := CheckCountryCode(" US ")
	assert.NoError(err)
	assert.Equal("us", code)
}

func TestCheckCountryCodeFail(t *testing.T) {

	assert := assert.New(t)

	_, err := CheckCountryCode("usa")
	assert.Error(err)

	_, err = CheckCountryCode("")
	assert.Error(err)
}

func TestCheckContinentCode(t *testing.T) {

	assert := assert.New(t)

	code, err := CheckContinentCode("EU")
	assert.NoError(err)
	assert.Equal("eu", code)

	_, err = CheckContinentCode("europe")
	assert.Error(err)
}
