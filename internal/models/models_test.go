package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeStatus(t *testing.T) {
	cases := []struct {
		name, statusType string
		want             StatusCategory
	}{
		{"backlog", "open", CategoryNotStarted},
		{" In Review ", "custom", CategoryActive},
		{"QC CHECK", "custom", CategoryDone},
		{"cancelled", "closed", CategoryClosed},
		{"design sync", "custom", CategoryActive},
		{"intake", "open", CategoryNotStarted},
		{"archived", "weird", CategoryOther},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CategorizeStatus(tc.name, tc.statusType), tc.name)
	}
}
