package httpclient_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/devicelabs/entrasync/internal/httpclient"
)

var _ = Describe("HTTPError", func() {
	Describe("NewHTTPError", func() {
		It("should create HTTPError with all fields", func() {
			err := httpclient.NewHTTPError(404, "http://example.com", "Not Found")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("HTTP 404"))
			Expect(err.Error()).To(ContainSubstring("http://example.com"))
			Expect(err.Error()).To(ContainSubstring("Not Found"))
		})

		It("should format error message correctly", func() {
			err := httpclient.NewHTTPError(500, "http://api.example.com/v2/endpoints", "Internal Server Error")
			expected := "HTTP 500 for URL http://api.example.com/v2/endpoints: Internal Server Error"
			Expect(err.Error()).To(Equal(expected))
		})
	})
})
