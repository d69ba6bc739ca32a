package testutils

import (
	"go.uber.org/goleak"
)

func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m)
}
