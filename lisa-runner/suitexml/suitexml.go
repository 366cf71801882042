// Package suitexml edits LISA suite definition files in place.
//
// A definition looks like:
//
//	<config>
//	  <global><logfileRootDir>TestResults</logfileRootDir>...</global>
//	  <testSuites><suite><suiteName>Core</suiteName><suiteTests><suiteTest>Core_A</suiteTest>...</suiteTests></suite></testSuites>
//	  <testCases><test><testName>Core_A</testName>...<testParams><param>KEY=VALUE</param></testParams></test>...</testCases>
//	  <VMs><vm><hvServer>localhost</hvServer><vmName>SUT</vmName>...</vm>...</VMs>
//	</config>
//
// Unknown elements are kept untouched, so a definition survives a round trip
// except for indentation.
package suitexml

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/lis-test/infra/lisa-runner/runconfig"
)

var (
	ErrMalformed = errors.New("malformed suite definition")
)

// Definition is an open suite definition. It is not safe for concurrent use;
// each definition file is edited by one goroutine at a time.
type Definition struct {
	path string
	doc  *etree.Document
}

// Open parses the definition stored at path.
func Open(path string) (*Definition, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("failed to read suite definition %s: %w", path, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: %s has no root element", ErrMalformed, path)
	}
	return &Definition{path: path, doc: doc}, nil
}

// Path returns the file the definition was read from.
func (d *Definition) Path() string {
	return d.path
}

// Save writes the definition back to its file.
func (d *Definition) Save() error {
	d.doc.Indent(4)
	if err := d.doc.WriteToFile(d.path); err != nil {
		return fmt.Errorf("failed to write suite definition %s: %w", d.path, err)
	}
	return nil
}

// SetLogRoot sets global/logfileRootDir.
func (d *Definition) SetLogRoot(dir string) error {
	global := d.doc.Root().SelectElement("global")
	if global == nil {
		return fmt.Errorf("%w: %s has no global section", ErrMalformed, d.path)
	}
	child(global, "logfileRootDir").SetText(dir)
	return nil
}

// LogRoot returns global/logfileRootDir.
func (d *Definition) LogRoot() string {
	if el := d.doc.Root().FindElement("./global/logfileRootDir"); el != nil {
		return el.Text()
	}
	return ""
}

// SetVMConfig stamps fields onto the first (system under test) VM entry,
// creating missing child elements.
func (d *Definition) SetVMConfig(fields runconfig.Params) error {
	vm, err := d.vm(0)
	if err != nil {
		return err
	}
	for _, f := range fields {
		child(vm, f.Key).SetText(f.Value)
	}
	return nil
}

// SetSecondaryVM stamps the server and name of the second VM entry, the
// non-SUT dependency VM of suites such as LTP.
func (d *Definition) SetSecondaryVM(hvServer, vmName string) error {
	vm, err := d.vm(1)
	if err != nil {
		return err
	}
	child(vm, "hvServer").SetText(hvServer)
	child(vm, "vmName").SetText(vmName)
	return nil
}

// VMField returns a child value of the VM entry at index.
func (d *Definition) VMField(index int, key string) string {
	vm, err := d.vm(index)
	if err != nil {
		return ""
	}
	if el := vm.SelectElement(key); el != nil {
		return el.Text()
	}
	return ""
}

// TestNames returns the test case names in document order.
func (d *Definition) TestNames() []string {
	var names []string
	for _, t := range d.tests() {
		names = append(names, testName(t))
	}
	return names
}

// SuiteTests returns the suiteTest entries of every suite in document order.
func (d *Definition) SuiteTests() []string {
	var names []string
	for _, st := range d.doc.Root().FindElements("./testSuites/suite/suiteTests/suiteTest") {
		names = append(names, strings.TrimSpace(st.Text()))
	}
	return names
}

// RemoveTests drops the named test cases and their suite references. It
// returns the number of test cases removed.
func (d *Definition) RemoveTests(names []string) int {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	removed := 0
	for _, t := range d.tests() {
		if drop[testName(t)] {
			t.Parent().RemoveChild(t)
			removed++
		}
	}
	for _, st := range d.doc.Root().FindElements("./testSuites/suite/suiteTests/suiteTest") {
		if drop[strings.TrimSpace(st.Text())] {
			st.Parent().RemoveChild(st)
		}
	}
	return removed
}

// SetTestParams applies per-test parameter overrides. A parameter already
// present as KEY=... is replaced, otherwise it is appended. Tests that are not
// in the definition are returned and left alone.
func (d *Definition) SetTestParams(overrides map[string]map[string]string) (missing []string) {
	byName := make(map[string]*etree.Element)
	for _, t := range d.tests() {
		byName[testName(t)] = t
	}

	tests := make([]string, 0, len(overrides))
	for name := range overrides {
		tests = append(tests, name)
	}
	sort.Strings(tests)

	for _, name := range tests {
		t, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		params := child(t, "testParams")
		keys := make([]string, 0, len(overrides[name]))
		for k := range overrides[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			setParam(params, k, overrides[name][k])
		}
	}
	return missing
}

// TestParam returns the value of KEY in the named test's parameters.
func (d *Definition) TestParam(test, key string) (string, bool) {
	for _, t := range d.tests() {
		if testName(t) != test {
			continue
		}
		params := t.SelectElement("testParams")
		if params == nil {
			return "", false
		}
		for _, p := range params.SelectElements("param") {
			if k, v, ok := strings.Cut(strings.TrimSpace(p.Text()), "="); ok && k == key {
				return v, true
			}
		}
	}
	return "", false
}

// InsertTest adds a test case at position index among the existing test
// cases (appending when index is past the end) and references it from the
// first suite at the same position.
func (d *Definition) InsertTest(test runconfig.ExtraTest, index int) error {
	cases := d.doc.Root().SelectElement("testCases")
	if cases == nil {
		return fmt.Errorf("%w: %s has no testCases section", ErrMalformed, d.path)
	}
	insertElementAt(cases, newTestElement(test), index)

	if suiteTests := d.doc.Root().FindElement("./testSuites/suite/suiteTests"); suiteTests != nil {
		ref := etree.NewElement("suiteTest")
		ref.SetText(test.TestName)
		insertElementAt(suiteTests, ref, index)
	}
	return nil
}

func (d *Definition) vm(index int) (*etree.Element, error) {
	vms := d.doc.Root().SelectElement("VMs")
	if vms == nil {
		return nil, fmt.Errorf("%w: %s has no VMs section", ErrMalformed, d.path)
	}
	entries := vms.ChildElements()
	if index >= len(entries) {
		return nil, fmt.Errorf("%w: %s has %d VM entries, need %d", ErrMalformed, d.path, len(entries), index+1)
	}
	return entries[index], nil
}

func (d *Definition) tests() []*etree.Element {
	return d.doc.Root().FindElements("./testCases/test")
}

func testName(t *etree.Element) string {
	if n := t.SelectElement("testName"); n != nil {
		return strings.TrimSpace(n.Text())
	}
	return ""
}

// child returns the first child named tag, creating it when absent.
func child(parent *etree.Element, tag string) *etree.Element {
	if el := parent.SelectElement(tag); el != nil {
		return el
	}
	return parent.CreateElement(tag)
}

func setParam(params *etree.Element, key, value string) {
	for _, p := range params.SelectElements("param") {
		if k, _, ok := strings.Cut(strings.TrimSpace(p.Text()), "="); ok && k == key {
			p.SetText(key + "=" + value)
			return
		}
	}
	params.CreateElement("param").SetText(key + "=" + value)
}

// insertElementAt inserts el before the index-th child element of parent.
func insertElementAt(parent, el *etree.Element, index int) {
	siblings := parent.ChildElements()
	if index < 0 || index >= len(siblings) {
		parent.AddChild(el)
		return
	}
	parent.InsertChildAt(siblings[index].Index(), el)
}

func newTestElement(test runconfig.ExtraTest) *etree.Element {
	el := etree.NewElement("test")
	el.CreateElement("testName").SetText(test.TestName)
	optional := []struct{ tag, value string }{
		{"setupScript", test.SetupScript},
		{"testScript", test.TestScript},
		{"cleanupScript", test.CleanupScript},
		{"files", test.Files},
		{"onError", test.OnError},
	}
	for _, o := range optional {
		if o.value != "" {
			el.CreateElement(o.tag).SetText(o.value)
		}
	}
	if test.Timeout > 0 {
		el.CreateElement("timeout").SetText(strconv.Itoa(test.Timeout))
	}
	if test.NoReboot != nil {
		el.CreateElement("noReboot").SetText(strconv.FormatBool(*test.NoReboot))
	}
	if len(test.TestParams) > 0 {
		params := el.CreateElement("testParams")
		for _, p := range test.TestParams {
			params.CreateElement("param").SetText(p.Key + "=" + p.Value)
		}
	}
	return el
}
