package listener

import (
	"encoding/xml"
	"io"
	"sync"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
)

// [EXPANSION]: JUnit XML is the de facto interchange format CI dashboards
// consume; not named in the distilled spec but a natural listener
// alongside JSONListener, grounded on the same teacher reporter.

type junitTestCase struct {
	XMLName   xml.Name `xml:"testcase"`
	ClassName string   `xml:"classname,attr"`
	Name      string   `xml:"name,attr"`
	Time      float64  `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Content string `xml:",chardata"`
}

type junitSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Time      float64         `xml:"time,attr"`
	TestCases []junitTestCase `xml:"testcase"`
}

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

// JUnitListener is a capability.TestInvocationListener that accumulates
// results and serializes them as JUnit XML on demand.
type JUnitListener struct {
	mu     sync.Mutex
	suites []junitSuite

	current   *junitSuite
	testStart time.Time
	testName  capability.TestDescription
	testFail  *junitFailure
}

// NewJUnitListener returns an empty JUnitListener.
func NewJUnitListener() *JUnitListener {
	return &JUnitListener{}
}

func (j *JUnitListener) InvocationStarted(*model.InvocationContext) {}
func (j *JUnitListener) InvocationFailed(*model.FailureDescription) {}
func (j *JUnitListener) InvocationEnded(time.Duration)               {}

func (j *JUnitListener) TestModuleStarted(descriptor model.ConfigurationDescriptor) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.current = &junitSuite{Name: descriptor.String()}
}

func (j *JUnitListener) TestModuleEnded() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == nil {
		return
	}
	j.suites = append(j.suites, *j.current)
	j.current = nil
}

func (j *JUnitListener) TestRunStarted(string, int, int)                    {}
func (j *JUnitListener) TestRunFailed(*model.FailureDescription)       {}
func (j *JUnitListener) TestRunEnded(time.Duration, map[string]string) {}

func (j *JUnitListener) TestStarted(test capability.TestDescription) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.testStart = time.Now()
	j.testName = test
	j.testFail = nil
}

func (j *JUnitListener) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.testFail = &junitFailure{Message: failure.Error(), Content: failure.Message}
}

func (j *JUnitListener) TestEnded(test capability.TestDescription, testMetrics map[string]string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == nil {
		return
	}
	tc := junitTestCase{
		ClassName: test.ClassName,
		Name:      test.TestName,
		Time:      time.Since(j.testStart).Seconds(),
		Failure:   j.testFail,
	}
	j.current.TestCases = append(j.current.TestCases, tc)
	j.current.Tests++
	j.current.Time += tc.Time
	if tc.Failure != nil {
		j.current.Failures++
	}
}

func (j *JUnitListener) TestLog(string, capability.LogDataType, io.Reader) {}
func (j *JUnitListener) LogAssociation(string, model.LogFile)             {}

// WriteTo serializes the accumulated suites as JUnit XML.
func (j *JUnitListener) WriteTo(w io.Writer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(junitSuites{Suites: j.suites})
}

var _ capability.TestInvocationListener = (*JUnitListener)(nil)
