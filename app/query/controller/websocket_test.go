package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientSubscriptions(t *testing.T) {
	subs := NewClientSubscriptions()

	assert.False(t, subs.IsSubscribed("CLASS:math-7b:WEEKLY"))

	subs.Subscribe("CLASS:math-7b:WEEKLY")
	assert.True(t, subs.IsSubscribed("CLASS:math-7b:WEEKLY"))
	assert.False(t, subs.IsSubscribed("CLASS:math-7b:DAILY"))

	subs.Unsubscribe("CLASS:math-7b:WEEKLY")
	assert.False(t, subs.IsSubscribed("CLASS:math-7b:WEEKLY"))
}

func TestWildcardSubscription(t *testing.T) {
	subs := NewClientSubscriptions()
	subs.Subscribe("*")

	assert.True(t, subs.IsSubscribed("CLASS:math-7b:WEEKLY"))
	assert.True(t, subs.IsSubscribed("ORG:district-3:ALL_TIME"))

	subs.Unsubscribe("*")
	assert.False(t, subs.IsSubscribed("CLASS:math-7b:WEEKLY"))
}
