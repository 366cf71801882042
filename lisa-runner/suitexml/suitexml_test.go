package suitexml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lis-test/infra/lisa-runner/runconfig"
)

const coreTests = `<?xml version="1.0" encoding="utf-8"?>
<config>
    <global>
        <logfileRootDir>TestResults</logfileRootDir>
        <defaultSnapshot>ICABase</defaultSnapshot>
    </global>
    <testSuites>
        <suite>
            <suiteName>Core</suiteName>
            <suiteTests>
                <suiteTest>Core_Heartbeat</suiteTest>
                <suiteTest>Core_Reload_Modules</suiteTest>
                <suiteTest>Core_Time_Sync</suiteTest>
            </suiteTests>
        </suite>
    </testSuites>
    <testCases>
        <test>
            <testName>Core_Heartbeat</testName>
            <testScript>setupscripts\Heartbeat.ps1</testScript>
            <timeout>600</timeout>
            <testParams>
                <param>TC_COVERED=CORE-01</param>
                <param>vmName=OLD</param>
            </testParams>
        </test>
        <test>
            <testName>Core_Reload_Modules</testName>
            <testScript>CORE_reload_modules.sh</testScript>
        </test>
        <test>
            <testName>Core_Time_Sync</testName>
            <testScript>CORE_TimeSync.sh</testScript>
        </test>
    </testCases>
    <VMs>
        <vm>
            <hvServer>localhost</hvServer>
            <vmName>SUT</vmName>
            <os>Linux</os>
            <suite>Core</suite>
        </vm>
        <vm>
            <hvServer>localhost</hvServer>
            <vmName>DEPENDENCY</vmName>
        </vm>
    </VMs>
</config>
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CoreTests.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func reopen(t *testing.T, d *Definition) *Definition {
	t.Helper()
	require.NoError(t, d.Save())
	out, err := Open(d.Path())
	require.NoError(t, err)
	return out
}

func TestSetVMConfigAndLogRoot(t *testing.T) {
	d, err := Open(writeDefinition(t, coreTests))
	require.NoError(t, err)

	require.NoError(t, d.SetVMConfig(runconfig.Params{
		{Key: "hvServer", Value: "hyperv01"},
		{Key: "vmName", Value: "vm1"},
		{Key: "sshKey", Value: "id_rsa.ppk"},
	}))
	require.NoError(t, d.SetLogRoot(`D:\results`))

	d = reopen(t, d)
	assert.Equal(t, "hyperv01", d.VMField(0, "hvServer"))
	assert.Equal(t, "vm1", d.VMField(0, "vmName"))
	assert.Equal(t, "id_rsa.ppk", d.VMField(0, "sshKey"), "missing fields are created")
	assert.Equal(t, "Linux", d.VMField(0, "os"), "untouched fields survive")
	assert.Equal(t, "DEPENDENCY", d.VMField(1, "vmName"))
	assert.Equal(t, `D:\results`, d.LogRoot())
}

func TestSetSecondaryVM(t *testing.T) {
	d, err := Open(writeDefinition(t, coreTests))
	require.NoError(t, err)
	require.NoError(t, d.SetSecondaryVM("hyperv02", "lisa-dep"))

	d = reopen(t, d)
	assert.Equal(t, "hyperv02", d.VMField(1, "hvServer"))
	assert.Equal(t, "lisa-dep", d.VMField(1, "vmName"))
	assert.Equal(t, "SUT", d.VMField(0, "vmName"))
}

func TestSetSecondaryVMWithoutSecondEntry(t *testing.T) {
	d, err := Open(writeDefinition(t, `<config><global/><VMs><vm><vmName>a</vmName></vm></VMs></config>`))
	require.NoError(t, err)
	require.ErrorIs(t, d.SetSecondaryVM("hv", "b"), ErrMalformed)
}

func TestRemoveTests(t *testing.T) {
	d, err := Open(writeDefinition(t, coreTests))
	require.NoError(t, err)

	assert.Equal(t, 1, d.RemoveTests([]string{"Core_Reload_Modules", "Not_There"}))

	d = reopen(t, d)
	assert.Equal(t, []string{"Core_Heartbeat", "Core_Time_Sync"}, d.TestNames())
	assert.Equal(t, []string{"Core_Heartbeat", "Core_Time_Sync"}, d.SuiteTests())
}

func TestSetTestParams(t *testing.T) {
	d, err := Open(writeDefinition(t, coreTests))
	require.NoError(t, err)

	missing := d.SetTestParams(map[string]map[string]string{
		"Core_Heartbeat": {"vmName": "vm7", "TIMEOUT": "300"},
		"Core_Time_Sync": {"MAX_DRIFT": "5"},
		"Ghost_Test":     {"X": "1"},
	})
	assert.Equal(t, []string{"Ghost_Test"}, missing)

	d = reopen(t, d)
	v, ok := d.TestParam("Core_Heartbeat", "vmName")
	require.True(t, ok)
	assert.Equal(t, "vm7", v, "existing params are replaced in place")

	v, ok = d.TestParam("Core_Heartbeat", "TC_COVERED")
	require.True(t, ok)
	assert.Equal(t, "CORE-01", v)

	v, ok = d.TestParam("Core_Heartbeat", "TIMEOUT")
	require.True(t, ok)
	assert.Equal(t, "300", v)

	v, ok = d.TestParam("Core_Time_Sync", "MAX_DRIFT")
	require.True(t, ok, "a testParams section is created when missing")
	assert.Equal(t, "5", v)
}

func TestInsertTest(t *testing.T) {
	d, err := Open(writeDefinition(t, coreTests))
	require.NoError(t, err)

	noReboot := true
	extra := []runconfig.ExtraTest{
		{TestName: "Extra_First", TestScript: "first.sh", Timeout: 300, NoReboot: &noReboot,
			TestParams: runconfig.Params{{Key: "TC_COVERED", Value: "EX-01"}}},
		{TestName: "Extra_Second", TestScript: "second.sh"},
		{TestName: "Extra_Last", TestScript: "last.sh"},
	}
	for i, e := range extra {
		require.NoError(t, d.InsertTest(e, i))
	}
	require.NoError(t, d.InsertTest(runconfig.ExtraTest{TestName: "Extra_Tail"}, 100))

	d = reopen(t, d)
	assert.Equal(t, []string{
		"Extra_First", "Extra_Second", "Extra_Last",
		"Core_Heartbeat", "Core_Reload_Modules", "Core_Time_Sync",
		"Extra_Tail",
	}, d.TestNames())
	assert.Equal(t, d.TestNames(), d.SuiteTests())

	v, ok := d.TestParam("Extra_First", "TC_COVERED")
	require.True(t, ok)
	assert.Equal(t, "EX-01", v)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)

	d, err := Open(writeDefinition(t, `<config><VMs/></config>`))
	require.NoError(t, err)
	require.ErrorIs(t, d.SetLogRoot("x"), ErrMalformed)
	require.ErrorIs(t, d.SetVMConfig(nil), ErrMalformed)
	require.ErrorIs(t, d.InsertTest(runconfig.ExtraTest{TestName: "x"}, 0), ErrMalformed)
}
