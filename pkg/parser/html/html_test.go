package html_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/parser/html"
)

const page = `<!DOCTYPE html>
<html>
<head><title>Handbook</title><style>p { color: red }</style></head>
<body>
<p>Intro paragraph.</p>
<h1>Setup</h1>
<p>Install the tool.</p>
<script>var hidden = 1;</script>
<h2>Linux</h2>
<p>Use the package manager.</p>
<img src="linux.png">
<h1>Usage</h1>
<ul><li>Run it</li><li>Stop it</li></ul>
</body>
</html>`

var _ = Describe("Parser", func() {
	It("sections text by heading rank", func() {
		d, err := html.New().Parse(context.Background(), []byte(page), "")
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Title).To(Equal("Handbook"))
		Expect(d.Root.Text).To(Equal("Intro paragraph."))
		Expect(d.Root.Children).To(HaveLen(2))

		setup := d.Root.Children[0]
		Expect(setup.Title).To(Equal("Setup"))
		Expect(setup.Text).To(Equal("Install the tool."))
		Expect(setup.Children).To(HaveLen(1))
		Expect(setup.Children[0].Title).To(Equal("Linux"))
		Expect(setup.Children[0].Media).To(Equal([]string{"linux.png"}))

		usage := d.Root.Children[1]
		Expect(usage.Text).To(Equal("Run it\nStop it"))
	})

	It("drops scripts and styles", func() {
		d, err := html.New().Parse(context.Background(), []byte(page), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Root.Children[0].Text).NotTo(ContainSubstring("hidden"))
		Expect(d.Root.Text).NotTo(ContainSubstring("color"))
	})
})
