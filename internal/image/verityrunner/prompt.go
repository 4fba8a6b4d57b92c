package verityrunner

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Wenri/FECISO/internal/geometry"
)

// Slack returns, for every candidate, the number of bytes left over on the
// target disc profile if that roots value is chosen (spec.md §4.4 Operator
// selection).
func Slack(candidates map[int]Candidate, dataSectors, hashSectors, profileTotal int64) map[int]int64 {
	out := make(map[int]int64, len(candidates))
	dataAndHashBytes := (dataSectors + hashSectors) * geometry.DataBlockSize
	for r := range candidates {
		parity := geometry.FECParitySectors(dataAndHashBytes, r)
		out[r] = (profileTotal - dataSectors - hashSectors - parity) * geometry.DataBlockSize
	}
	return out
}

// FoldSlack renders candidates (sorted descending) folded into
// runs of consecutive roots with equal slack, each group followed by its
// own slack, e.g. "24-22:100B,20:100B,18:50B", for compact operator display.
func FoldSlack(slack map[int]int64) string {
	roots := make([]int, 0, len(slack))
	for r := range slack {
		roots = append(roots, r)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(roots)))

	var groups []string
	i := 0
	for i < len(roots) {
		j := i
		for j+1 < len(roots) && roots[j+1] == roots[j]-1 && slack[roots[j+1]] == slack[roots[i]] {
			j++
		}
		var label string
		if j == i {
			label = strconv.Itoa(roots[i])
		} else {
			label = fmt.Sprintf("%d-%d", roots[i], roots[j])
		}
		groups = append(groups, fmt.Sprintf("%s:%s", label, geometry.FormatBytes(slack[roots[i]])))
		i = j + 1
	}
	return strings.Join(groups, ",")
}

// PromptOperator prints the folded slack table to w and reads a single
// integer selection from r, re-prompting on non-integer or out-of-set
// input until a valid candidate roots value is entered (spec.md §4.4,
// §7 "operator input").
func PromptOperator(r io.Reader, w io.Writer, candidates map[int]Candidate, dataSectors, hashSectors, profileTotal int64) (int, error) {
	slack := Slack(candidates, dataSectors, hashSectors, profileTotal)
	fmt.Fprintf(w, "FEC roots candidates (roots:slack): %s\n", FoldSlack(slack))

	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "select FEC roots value: ")
		if !scanner.Scan() {
			return 0, fmt.Errorf("no more operator input: %w", scanner.Err())
		}
		text := strings.TrimSpace(scanner.Text())
		n, err := strconv.Atoi(text)
		if err != nil {
			fmt.Fprintf(w, "not an integer: %q, choose one of %v\n", text, sortedKeys(candidates))
			continue
		}
		if _, ok := candidates[n]; !ok {
			fmt.Fprintf(w, "%d is not a candidate, choose one of %v\n", n, sortedKeys(candidates))
			continue
		}
		return n, nil
	}
}

func sortedKeys(candidates map[int]Candidate) []int {
	out := make([]int, 0, len(candidates))
	for r := range candidates {
		out = append(out, r)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}
