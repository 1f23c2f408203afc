package chain

// ABI fragments for the view functions the reader calls.

const vaultABIJSON = `[
	{"inputs":[],"name":"marginFeeBasisPoints","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"maxLeverage","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"liquidationFeeUsd","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"totalTokenWeights","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const readerABIJSON = `[
	{"inputs":[{"name":"_vault","type":"address"},{"name":"_weth","type":"address"},{"name":"_tokens","type":"address[]"}],
	 "name":"getFundingRates","outputs":[{"type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_vault","type":"address"},{"name":"_account","type":"address"},{"name":"_collateralTokens","type":"address[]"},{"name":"_indexTokens","type":"address[]"},{"name":"_isLong","type":"bool[]"}],
	 "name":"getPositions","outputs":[{"type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_account","type":"address"},{"name":"_tokens","type":"address[]"}],
	 "name":"getTokenBalances","outputs":[{"type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

const vaultReaderABIJSON = `[
	{"inputs":[{"name":"_vault","type":"address"},{"name":"_positionManager","type":"address"},{"name":"_weth","type":"address"},{"name":"_usdgAmount","type":"uint256"},{"name":"_tokens","type":"address[]"}],
	 "name":"getVaultTokenInfoV4","outputs":[{"type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

const minExecutionFeeABIJSON = `[
	{"inputs":[],"name":"minExecutionFee","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
	{"inputs":[],"name":"totalSupply","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const trackerABIJSON = `[
	{"inputs":[{"name":"_account","type":"address"}],"name":"stakedAmounts","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}
]`
