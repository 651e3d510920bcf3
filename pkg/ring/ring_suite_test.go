package ring_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestRingSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ring package interleaving behaviors")
}
