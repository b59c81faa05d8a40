// Copyright (C) 2021  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package htmlutil holds small helpers on top of golang.org/x/net/html.
package htmlutil

import (
	"strings"

	"golang.org/x/net/html"
)

// Visit walks the tree under node depth-first, calling visit on every node.
func Visit(node *html.Node, visit func(*html.Node) error) error {
	if err := visit(node); err != nil {
		return err
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if err := Visit(child, visit); err != nil {
			return err
		}
	}
	return nil
}

// GetAttr returns the value of the un-namespaced attribute name on node.
func GetAttr(node *html.Node, name string) (val string, ok bool) {
	if node == nil {
		return "", false
	}
	for _, attr := range node.Attr {
		if attr.Namespace == "" && attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}

// Text returns the concatenated direct text children of node.
func Text(node *html.Node) string {
	var text strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			text.WriteString(child.Data)
		}
	}
	return text.String()
}
