// Package webfetch declares a fetch_url function that downloads a web page
// and hands its content to the model as Markdown.
package webfetch
