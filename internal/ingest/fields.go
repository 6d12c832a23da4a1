package ingest

import (
	"github.com/licitabr/pncp-mirror/internal/normalize"
	"github.com/licitabr/pncp-mirror/internal/store"
)

// Natural-key source fields. Item payloads fetched from the per-record
// endpoints do not carry their parent key, so the fetcher injects it into
// the raw object under these names before normalization.
const (
	noticeKeyField = "numeroControlePNCP"
	planKeyField   = "idPcaPncp"
	itemNumField   = "numeroItem"
)

// noticeFields maps the upstream notice payload onto the contratacoes table.
var noticeFields = normalize.Table{
	{Path: "numeroControlePNCP", Column: "numero_controle_pncp"},
	{Path: "dataPublicacaoPncp", Column: "data_publicacao_pncp"},
	{Path: "dataAberturaProposta", Column: "data_abertura_proposta"},
	{Path: "dataEncerramentoProposta", Column: "data_encerramento_proposta"},
	{Path: "objetoCompra", Column: "objeto_compra"},
	{Path: "valorTotalEstimado", Column: "valor_total_estimado", Coerce: normalize.Decimal},
	{Path: "valorTotalHomologado", Column: "valor_total_homologado", Coerce: normalize.Decimal},
	{Path: "modalidadeId", Column: "modalidade_id", Coerce: normalize.Int},
	{Path: "modalidadeNome", Column: "modalidade_nome"},
	{Path: "situacaoCompraNome", Column: "situacao_compra_nome"},
	{Path: "orgaoEntidade.cnpj", Column: "orgao_cnpj"},
	{Path: "orgaoEntidade.razaoSocial", Column: "orgao_razao_social"},
	{Path: "unidadeOrgao.codigoUnidade", Column: "unidade_codigo"},
	{Path: "unidadeOrgao.nomeUnidade", Column: "unidade_nome"},
	{Path: "unidadeOrgao.ufSigla", Column: "uf_sigla"},
	{Path: "unidadeOrgao.municipioNome", Column: "municipio_nome"},
	{Path: "orgaoSubRogado.cnpj", Column: "orgao_subrogado_cnpj"},
	{Path: "orgaoSubRogado.razaoSocial", Column: "orgao_subrogado_razao_social"},
	{Path: "amparoLegal.codigo", Column: "amparo_legal_codigo", Coerce: normalize.Int},
	{Path: "amparoLegal.nome", Column: "amparo_legal_nome"},
	{Path: "srp", Column: "srp", Coerce: normalize.Bool},
	{Path: "fontesOrcamentarias", Column: "fontes_orcamentarias", Coerce: normalize.JSON},
}

// Later observations legitimately revise notice fields (homologated totals
// arrive days after publication), so the policy is last write wins.
var noticeSpec = store.TableSpec{
	Name:       "contratacoes",
	Columns:    noticeFields.Columns(),
	KeyColumns: []string{"numero_controle_pncp"},
	Policy:     store.UpdateAll,
}

var noticeItemFields = normalize.Table{
	{Path: noticeKeyField, Column: "numero_controle_pncp"},
	{Path: "numeroItem", Column: "numero_item", Coerce: normalize.Int},
	{Path: "descricao", Column: "descricao"},
	{Path: "unidadeMedida", Column: "unidade_medida"},
	{Path: "quantidade", Column: "quantidade", Coerce: normalize.Quantity},
	{Path: "valorUnitarioEstimado", Column: "valor_unitario_estimado", Coerce: normalize.Decimal},
	{Path: "valorTotal", Column: "valor_total", Coerce: normalize.Decimal},
	{Path: "materialOuServicoNome", Column: "material_ou_servico"},
	{Path: "categoriaItemNome", Column: "categoria_item_nome"},
	{Path: "situacaoCompraItemNome", Column: "situacao_item_nome"},
	{Path: "dataInclusao", Column: "data_inclusao"},
	{Path: "dataAtualizacao", Column: "data_atualizacao"},
}

var noticeItemSpec = store.TableSpec{
	Name:       "contratacao_itens",
	Columns:    noticeItemFields.Columns(),
	KeyColumns: []string{"numero_controle_pncp", "numero_item"},
	Policy:     store.UpdateAll,
}

var planFields = normalize.Table{
	{Path: "idPcaPncp", Column: "id_pca_pncp"},
	{Path: "anoPca", Column: "ano_pca", Coerce: normalize.Int},
	{Path: "idUsuario", Column: "id_usuario", Coerce: normalize.Int},
	{Path: "orgaoEntidadeCnpj", Column: "orgao_cnpj"},
	{Path: "orgaoEntidadeRazaoSocial", Column: "orgao_razao_social"},
	{Path: "codigoUnidade", Column: "codigo_unidade"},
	{Path: "nomeUnidade", Column: "nome_unidade"},
	{Path: "dataPublicacaoPNCP", Column: "data_publicacao"},
	{Path: "dataAtualizacaoGlobalPCA", Column: "data_atualizacao"},
}

var planSpec = store.TableSpec{
	Name:       "pca",
	Columns:    planFields.Columns(),
	KeyColumns: []string{"id_pca_pncp"},
	Policy:     store.UpdateAll,
}

var planItemFields = normalize.Table{
	{Path: planKeyField, Column: "id_pca_pncp"},
	{Path: "numeroItem", Column: "numero_item", Coerce: normalize.Int},
	{Path: "categoriaItemPcaNome", Column: "categoria_item_nome"},
	{Path: "classificacaoCatalogoId", Column: "classificacao_catalogo_id", Coerce: normalize.Int},
	{Path: "classificacaoSuperiorCodigo", Column: "classificacao_superior_codigo"},
	{Path: "classificacaoSuperiorNome", Column: "classificacao_superior_nome"},
	{Path: "pdmCodigo", Column: "pdm_codigo"},
	{Path: "pdmDescricao", Column: "pdm_descricao"},
	{Path: "descricaoItem", Column: "descricao_item"},
	{Path: "unidadeFornecimento", Column: "unidade_fornecimento"},
	{Path: "quantidadeEstimada", Column: "quantidade_estimada", Coerce: normalize.Quantity},
	{Path: "valorUnitario", Column: "valor_unitario", Coerce: normalize.Decimal},
	{Path: "valorTotal", Column: "valor_total", Coerce: normalize.Decimal},
	{Path: "valorOrcamentoExercicio", Column: "valor_orcamento_exercicio", Coerce: normalize.Decimal},
	{Path: "dataDesejada", Column: "data_desejada"},
	{Path: "unidadeRequisitante", Column: "unidade_requisitante"},
	{Path: "grupoContratacaoNome", Column: "grupo_contratacao_nome"},
	{Path: "dataInclusao", Column: "data_inclusao"},
	{Path: "dataAtualizacao", Column: "data_atualizacao"},
}

var planItemSpec = store.TableSpec{
	Name:       "pca_itens",
	Columns:    planItemFields.Columns(),
	KeyColumns: []string{"id_pca_pncp", "numero_item"},
	Policy:     store.UpdateAll,
}
