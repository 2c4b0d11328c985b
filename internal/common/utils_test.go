package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAny(t *testing.T) {
	assert.True(t, HasAny("pm2.5 mass", "pm10", "pm2.5"))
	assert.False(t, HasAny("PM2.5", "pm2.5"))
	assert.False(t, HasAny("pm25"))
}

func TestHasAnyFold(t *testing.T) {
	assert.True(t, HasAnyFold("PM2.5 mass", "pm2.5"))
	assert.True(t, HasAnyFold("fine particulate", "PM10", "Particulate"))
	assert.False(t, HasAnyFold("PM10", "pm2.5"))
	assert.False(t, HasAnyFold("", "pm2.5"))
}

func TestEqualsAnyFold(t *testing.T) {
	assert.True(t, EqualsAnyFold(" PM25 ", "pm25", "pm2.5"))
	assert.True(t, EqualsAnyFold("Pm2.5", "pm25", "pm2.5"))
	assert.False(t, EqualsAnyFold("pm25-raw", "pm25"))
}
