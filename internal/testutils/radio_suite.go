package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// RadioSuite provides a reusable testify suite with a fresh MockRadio per test.
//
//	type SessionSuite struct {
//	    testutils.RadioSuite
//	}
//
//	func (s *SessionSuite) TestSomething() {
//	    s.Radio.ExpectScan()
//	    ...
//	    s.Radio.Advertise(testutils.CreateMockAdvertisement("Sensor", "AA:BB:CC:DD:EE:FF", -40).Build())
//	}
type RadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger
	Radio  *MockRadio

	// WaitTimeout bounds every Eventually-style wait in the suite
	WaitTimeout time.Duration
}

// SetupSuite initializes the logger shared by all tests in the suite.
func (s *RadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.WaitTimeout = 2 * time.Second
}

// SetupTest gives each test its own radio.
func (s *RadioSuite) SetupTest() {
	s.Radio = NewMockRadio()
}

// TearDownTest verifies the radio expectations of the finished test.
func (s *RadioSuite) TearDownTest() {
	s.Radio.AssertExpectations(s.T())
	s.Radio = nil
}

// WaitForScans fails the test unless n scans are running within WaitTimeout.
func (s *RadioSuite) WaitForScans(n int) {
	s.Require().True(s.Radio.WaitForScans(n, s.WaitTimeout), "expected %d running scan(s)", n)
}
