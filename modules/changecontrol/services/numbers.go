package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
)

// GenericDepartmentCode is used for final numbers generated without a
// department.
const GenericDepartmentCode = "GEN"

// NumberGenerator produces tracking numbers of the form
// REQ/CC/<YY>/<DEPT>/<NNNNN>, where NNNNN is one past the highest existing
// suffix under the same prefix. Generation must run inside the transaction
// that persists the number; the per-prefix lock makes concurrent generation
// safe.
type NumberGenerator struct {
	requests request.Repository
	now      func() time.Time
}

func NewNumberGenerator(requests request.Repository) *NumberGenerator {
	return &NumberGenerator{requests: requests, now: time.Now}
}

func (g *NumberGenerator) Temporary(ctx context.Context, departmentCode string) (string, error) {
	return g.next(ctx, request.NumberTemporary, departmentCode)
}

func (g *NumberGenerator) Final(ctx context.Context, departmentCode string) (string, error) {
	if departmentCode == "" {
		departmentCode = GenericDepartmentCode
	}
	return g.next(ctx, request.NumberFinal, departmentCode)
}

func (g *NumberGenerator) next(ctx context.Context, kind request.NumberKind, departmentCode string) (string, error) {
	prefix := numberPrefix(departmentCode, g.now())
	if err := g.requests.LockNumberPrefix(ctx, prefix); err != nil {
		return "", errors.Wrapf(err, "locking number prefix %s", prefix)
	}
	existing, err := g.requests.ListNumbersByPrefix(ctx, kind, prefix)
	if err != nil {
		return "", errors.Wrapf(err, "listing %s numbers for prefix %s", kind, prefix)
	}
	return formatNumber(prefix, nextSequence(existing)), nil
}

func numberPrefix(departmentCode string, at time.Time) string {
	return fmt.Sprintf("REQ/CC/%s/%s/", at.Format("06"), departmentCode)
}

// nextSequence returns one past the highest numeric suffix among the given
// numbers. Malformed suffixes are skipped, not treated as errors, so a
// stray hand-entered number cannot poison generation.
func nextSequence(numbers []string) int {
	maxSeq := 0
	for _, number := range numbers {
		idx := strings.LastIndex(number, "/")
		if idx < 0 || idx == len(number)-1 {
			continue
		}
		seq, err := strconv.Atoi(number[idx+1:])
		if err != nil {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq + 1
}

func formatNumber(prefix string, sequence int) string {
	return fmt.Sprintf("%s%05d", prefix, sequence)
}
