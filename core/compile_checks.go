package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ CredentialCodec = JSONCredentialCodec{}
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ RawConfigLoader = EnvConfigLoader{}
	_ RawConfigLoader = YAMLFileLoader{}
	_ RawConfigLoader = MergedConfigLoader{}
	_ ReportSink      = ReportSinkFunc(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
